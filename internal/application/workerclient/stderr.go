package workerclient

import (
	"bufio"
	"io"

	"github.com/smilemakc/mbflow/internal/infrastructure/logger"
)

// newStderrLog returns an io.Writer that relays a worker subprocess's
// stderr, line by line, into the server's structured logger rather than
// letting it go to the server's own stderr unattributed.
func newStderrLog(log *logger.Logger) io.Writer {
	r, w := io.Pipe()
	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			log.Warn("worker stderr", "line", scanner.Text())
		}
	}()
	return w
}
