package types

// redactedPlaceholder replaces secret values anywhere they would be rendered.
const redactedPlaceholder = "***REDACTED***"

// redactedJSON is redactedPlaceholder pre-encoded as a JSON string.
var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString holds a credential (database password, API token) that must
// never appear in log output or serialized config. Both fmt rendering and
// JSON marshaling produce a redacted placeholder; only an explicit Unmask
// call yields the plaintext.
type SecretString string

// String satisfies fmt.Stringer with the redacted placeholder, so %v, %s,
// and slog attribute formatting never see the plaintext.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON emits the redacted placeholder, keeping secrets out of config
// dumps and API responses that serialize the surrounding struct.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the plaintext. Call sites are the narrow set that hand the
// value to a driver or client, such as building the database DSN.
func (s SecretString) Unmask() string {
	return string(s)
}
