package custody

import "time"

// Now returns the current UTC time truncated to microseconds, the precision
// PostgreSQL retains for timestamptz. Hashed timestamps must survive a
// storage round trip bit-for-bit, so every persisted timestamp in the engine
// goes through this helper.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
