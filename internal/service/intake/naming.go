package intake

import (
	"fmt"
	"sync/atomic"
	"time"
)

// NameGenerator produces collision-resistant stored file names from a
// millisecond timestamp and a process-wide sequence number.
type NameGenerator struct {
	counter uint64
	now     func() time.Time
}

func NewNameGenerator() *NameGenerator {
	return &NameGenerator{now: time.Now}
}

// Next returns a new name ending in ext, e.g. "1718000000000-7.mp4".
func (g *NameGenerator) Next(ext string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%d-%d%s", g.now().UnixMilli(), n, ext)
}
