// Package action implements the host operation the scheduler triggers:
// asking the system to synchronize its clock.
//
// Drivers:
//   - "systemd": restart a time-sync unit (default systemd-timesyncd.service) over D-Bus
//   - "command": run a configured argv, e.g. ["chronyc", "makestep"]
//
// Invokers report failure through the returned error only; they never retry.
package action
