package logcollection

// CaptureBuffer holds the payload of an open communication token. It keeps
// at most maxBytes, discarding the oldest bytes on overflow.
type CaptureBuffer struct {
	maxBytes int
	buf      []byte
}

func NewCaptureBuffer(maxBytes int64) *CaptureBuffer {
	return &CaptureBuffer{maxBytes: int(maxBytes)}
}

func (c *CaptureBuffer) Write(data []byte) {
	if len(data) >= c.maxBytes {
		c.buf = append(c.buf[:0], data[len(data)-c.maxBytes:]...)
		return
	}
	if overflow := len(c.buf) + len(data) - c.maxBytes; overflow > 0 {
		c.buf = append(c.buf[:0], c.buf[overflow:]...)
	}
	c.buf = append(c.buf, data...)
}

// Take returns the captured bytes and empties the buffer.
func (c *CaptureBuffer) Take() []byte {
	data := c.buf
	c.buf = nil
	return data
}

func (c *CaptureBuffer) Len() int {
	return len(c.buf)
}
