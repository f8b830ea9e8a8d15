package progress

import "io"

// Reader wraps an io.Reader and invokes a callback as bytes flow through it.
// The callback fires at most once per Read call and roughly every interval
// bytes. A total of zero or below means the stream length is unknown; the
// callback still fires with that total so observers can render indeterminate
// progress.
type Reader struct {
	src        io.Reader
	total      int64
	interval   int64
	onProgress func(read, total int64)

	read      int64
	sinceLast int64
}

// NewReader creates a Reader reporting through cb. A non-positive interval
// defaults to 1 MiB.
func NewReader(src io.Reader, total, interval int64, cb func(read, total int64)) *Reader {
	if interval <= 0 {
		interval = 1 << 20
	}

	return &Reader{src: src, total: total, interval: interval, onProgress: cb}
}

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n > 0 {
		r.read += int64(n)
		r.sinceLast += int64(n)

		if r.onProgress != nil && r.sinceLast >= r.interval {
			r.onProgress(r.read, r.total)
			r.sinceLast = 0
		}
	}

	return n, err
}

// BytesRead returns the cumulative number of bytes read so far.
func (r *Reader) BytesRead() int64 {
	return r.read
}
