package dispatch

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"google.golang.org/protobuf/proto"
)

// Response is a write-once output sink. It starts unsent; the first terminal write
// (Send, SendString, SendStatus, HTML, JSON, Proto, Redirect) marks it sent and every later
// terminal write fails with *DoubleResponseError without touching the recorded output.
// Status and header changes made after the response was sent are ignored.
type Response struct {
	mu     sync.Mutex
	status int
	header http.Header
	body   []byte
	sent   bool

	// set by the dispatcher so misuse errors carry the request line
	method string
	path   string
}

// NewResponse creates an unsent response with status 200 and no headers.
func NewResponse() *Response {
	return &Response{
		status: http.StatusOK,
		header: http.Header{},
	}
}

// Header returns the header map that will be sent with the response.
// After the response is sent the returned map is a copy, and maps returned
// earlier no longer affect the response.
func (r *Response) Header() http.Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent {
		return r.header.Clone()
	}
	return r.header
}

// Status sets the status code used by the next terminal write and returns r for chaining.
func (r *Response) Status(code int) *Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.sent {
		r.status = code
	}
	return r
}

// Set sets a header value and returns r for chaining.
func (r *Response) Set(key, value string) *Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.sent {
		r.header.Set(key, value)
	}
	return r
}

// Sent reports whether the response was finalized.
func (r *Response) Sent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent
}

// StatusCode returns the response status code.
func (r *Response) StatusCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Body returns the response body.
func (r *Response) Body() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body
}

// Send finalizes the response with body. A Content-Type is sniffed when none was set.
func (r *Response) Send(body []byte) error {
	return r.finalize("send", -1, "", body)
}

// SendString finalizes the response with a text body.
func (r *Response) SendString(s string) error {
	return r.finalize("send", -1, "text/plain; charset=utf-8", []byte(s))
}

// SendStatus finalizes the response with code and its status text as the body.
func (r *Response) SendStatus(code int) error {
	return r.finalize("send_status", code, "text/plain; charset=utf-8", []byte(http.StatusText(code)))
}

// HTML finalizes the response with an HTML body.
func (r *Response) HTML(body []byte) error {
	return r.finalize("html", -1, "text/html; charset=utf-8", body)
}

// JSON marshals v and finalizes the response with it.
// A marshal failure leaves the response unsent.
func (r *Response) JSON(v any) error {
	if r.Sent() {
		return r.doubleResponse("json")
	}
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.finalize("json", -1, "application/json", body)
}

// Proto marshals m in protobuf wire format and finalizes the response with it.
func (r *Response) Proto(m proto.Message) error {
	if r.Sent() {
		return r.doubleResponse("proto")
	}
	body, err := proto.Marshal(m)
	if err != nil {
		return err
	}
	return r.finalize("proto", -1, "application/x-protobuf", body)
}

// Redirect finalizes the response as a redirect to location.
func (r *Response) Redirect(code int, location string) error {
	r.mu.Lock()
	if !r.sent {
		r.header.Set("Location", location)
	}
	r.mu.Unlock()
	return r.finalize("redirect", code, "text/plain; charset=utf-8", []byte(http.StatusText(code)+". Redirecting to "+location))
}

// finalize performs a terminal write. A status of -1 keeps the status set with Status.
// contentType is only applied when no Content-Type header was set.
func (r *Response) finalize(op string, status int, contentType string, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent {
		return &DoubleResponseError{Op: op, Method: r.method, Path: r.path}
	}
	if status >= 0 {
		r.status = status
	}
	if r.header.Get("Content-Type") == "" {
		if contentType == "" && len(body) > 0 {
			contentType = http.DetectContentType(body)
		}
		if contentType != "" {
			r.header.Set("Content-Type", contentType)
		}
	}
	r.body = body
	r.sent = true
	// Detach the map handed out by Header so later changes through it are ignored.
	r.header = r.header.Clone()
	return nil
}

func (r *Response) doubleResponse(op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &DoubleResponseError{Op: op, Method: r.method, Path: r.path}
}

// bind records the request line used in misuse errors.
func (r *Response) bind(req *Request) {
	r.mu.Lock()
	r.method = req.Method
	r.path = req.Path
	r.mu.Unlock()
}

// WriteHTTP serializes the response onto an http.ResponseWriter.
// An unsent response is written as 500.
func (r *Response) WriteHTTP(w http.ResponseWriter) (int, error) {
	r.mu.Lock()
	status, body, sent := r.status, r.body, r.sent
	header := r.header.Clone()
	r.mu.Unlock()

	if !sent {
		status = http.StatusInternalServerError
		body = []byte(http.StatusText(status))
		header = http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}}
	}

	dst := w.Header()
	for k, v := range header {
		dst[k] = v
	}
	if !bodyAllowed(status) {
		dst.Del("Content-Type")
		w.WriteHeader(status)
		return 0, nil
	}
	dst.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	return w.Write(body)
}

// bodyAllowed mirrors net/http: 1xx, 204 and 304 responses carry no body.
func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}
