// internal/report/upload.go
package report

import (
	"bytes"
	"net/url"
	"strings"
)

// UploadState is the position of the upload pipeline.
type UploadState uint8

const (
	StateIdle UploadState = iota
	StateConnect
	StateSend
	StateReceive
	StateCleanup
)

func (s UploadState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnect:
		return "CONNECT"
	case StateSend:
		return "SEND"
	case StateReceive:
		return "RECEIVE"
	case StateCleanup:
		return "CLEANUP"
	default:
		return "UNKNOWN"
	}
}

// Acknowledgement is the only response body accepted as success.
const Acknowledgement = "OK\n"

const contentType = "application/x-www-form-urlencoded"

// maxUploadSteps bounds the transitions taken by one upload call.
const maxUploadSteps = 8

// upload advances the pipeline until it has to wait for the next call.
// Only begin may move it out of IDLE.
func (r *Report) upload(begin bool) {
	for i := 0; i < maxUploadSteps; i++ {
		if !r.advance(begin) {
			return
		}
	}
}

// advance runs one state and reports whether the next may follow immediately.
func (r *Report) advance(begin bool) bool {
	switch r.state {
	case StateIdle:
		if !begin || !r.enabled || uint(r.readings.Len()) < r.cfg.Threshold {
			return false
		}
		r.state = StateConnect
		return true

	case StateConnect:
		if err := r.session.Begin(r.cfg.URL); err != nil {
			r.log.Error("upload connect failed", "url", r.cfg.URL, "err", err)
			r.abort()
			return false
		}
		r.state = StateSend
		return true

	case StateSend:
		return r.send()

	case StateReceive:
		return r.receive()

	case StateCleanup:
		n := r.readings.PruneThrough(r.lastTS)
		r.pruned += uint64(n)
		r.uploads++
		r.log.Info("uploaded readings", "count", n, "first", r.firstTS, "last", r.lastTS)
		r.state = StateIdle
		return false

	default:
		r.log.Error("unknown upload state", "state", r.state)
		r.abort()
		return false
	}
}

func (r *Report) send() bool {
	body, first, last, count := r.payload()
	if count == 0 {
		r.log.Error("no readings to upload")
		r.abort()
		return false
	}

	r.firstTS, r.lastTS = first, last

	r.session.AddHeader("Content-Type", contentType)
	status, err := r.session.Post(body)
	if err != nil {
		r.log.Error("upload failed", "first", first, "last", last, "err", err)
		r.fail()
		return false
	}
	if status != 200 {
		r.log.Error("upload failed", "first", first, "last", last, "status", status)
		r.fail()
		return false
	}

	r.state = StateReceive
	return false
}

func (r *Report) receive() bool {
	body, err := r.session.ResponseBody()
	r.session.End()

	switch {
	case err != nil:
		r.log.Error("upload response failed", "first", r.firstTS, "last", r.lastTS, "err", err)
	case string(body) != Acknowledgement:
		r.log.Error("upload rejected", "first", r.firstTS, "last", r.lastTS, "response", strings.TrimSpace(string(body)))
	default:
		r.state = StateCleanup
		return true
	}

	r.failures++
	r.state = StateIdle
	return false
}

func (r *Report) fail() {
	r.failures++
	r.abort()
}

// abort closes the session and drops the batch. Buffered readings are kept.
func (r *Report) abort() {
	r.session.End()
	r.state = StateIdle
}

// payload renders credentials followed by as many readings, oldest first,
// as fit in MaxUploadBytes.
func (r *Report) payload() (body []byte, first, last uint32, count int) {
	var b bytes.Buffer

	b.WriteString("u=")
	b.WriteString(url.QueryEscape(r.cfg.Username))
	b.WriteString("&p=")
	b.WriteString(url.QueryEscape(r.cfg.Password))
	b.WriteString("&n=")
	b.WriteString(url.QueryEscape(r.cfg.SensorName))

	for i := 0; i < r.readings.Len(); i++ {
		reading := r.readings.At(i)
		seg := reading.segment()

		if count > 0 && b.Len()+len(seg) > MaxUploadBytes {
			break
		}

		b.WriteString(seg)
		if count == 0 {
			first = reading.Timestamp()
		}
		last = reading.Timestamp()
		count++
	}

	return b.Bytes(), first, last, count
}
