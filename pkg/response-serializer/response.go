package serializer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const storedAtHeaderName = "Aoffline-Stored-At"

// StoredResponse is a fully buffered response, so that it can be returned to a client
// and written to a cache generation independently.
type StoredResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// The value of the clock at the time the response was received.
	StoredAt time.Time
}

// FromResponse buffers the given response. The response body is consumed and closed.
func FromResponse(res *http.Response) (StoredResponse, error) {
	sRes := StoredResponse{
		StatusCode: res.StatusCode,
		Header:     res.Header.Clone(),
		StoredAt:   time.Now(),
	}
	if sRes.Header == nil {
		sRes.Header = make(http.Header)
	}
	if res.Body == nil {
		return sRes, nil
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return sRes, err
	}
	sRes.Body = body
	// the body is stored decoded and complete
	sRes.Header.Del("Content-Length")
	sRes.Header.Del("Transfer-Encoding")
	return sRes, nil
}

// OK reports whether the status code is in the 2xx range.
func (s StoredResponse) OK() bool {
	return s.StatusCode >= 200 && s.StatusCode < 300
}

// Clone returns a deep copy of the response.
func (s StoredResponse) Clone() StoredResponse {
	c := s
	c.Header = s.Header.Clone()
	c.Body = append([]byte(nil), s.Body...)
	return c
}

// Response creates a new *http.Response with its own body reader.
func (s StoredResponse) Response(req *http.Request) *http.Response {
	header := s.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", s.StatusCode, http.StatusText(s.StatusCode)),
		StatusCode:    s.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(s.Body)),
		ContentLength: int64(len(s.Body)),
		Request:       req,
	}
}

// StoredResponseToBytes returns the HTTP/1.1 representation of the response.
// The stored-at time travels as an extra header.
func StoredResponseToBytes(sRes StoredResponse) ([]byte, error) {
	res := sRes.Response(nil)
	res.Header.Set(storedAtHeaderName, strconv.FormatInt(sRes.StoredAt.UnixNano(), 10))
	buf := &bytes.Buffer{}
	if err := res.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BytesToStoredResponse parses bytes written by StoredResponseToBytes.
func BytesToStoredResponse(b []byte) (StoredResponse, error) {
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), nil)
	if err != nil {
		return StoredResponse{}, err
	}
	sRes, err := FromResponse(res)
	if err != nil {
		return sRes, err
	}
	if storedAt := sRes.Header.Get(storedAtHeaderName); storedAt != "" {
		nanos, err := strconv.ParseInt(storedAt, 10, 64)
		if err != nil {
			log.Warn().Err(err).Str("value", storedAt).Msg("Could not parse stored-at time")
		} else {
			sRes.StoredAt = time.Unix(0, nanos)
		}
	}
	sRes.Header.Del(storedAtHeaderName)
	return sRes, nil
}
