package workerrun

import (
	"fmt"
	"os"
	"strings"
)

// resolveConnection looks up a named connection reference's DSN/URI.
// Credentials never travel inline in a node's settings (spec.md's
// non-goals exclude a credential vault beyond a plain connection
// reference); each reference names an environment variable the server
// operator provisions out of band.
func resolveConnection(ref string) (string, error) {
	key := "FLOWFILE_CONN_" + strings.ToUpper(strings.ReplaceAll(ref, "-", "_"))
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("connection reference %q is not configured (expected env var %s)", ref, key)
	}
	return v, nil
}
