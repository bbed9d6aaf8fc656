package httpclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

var (
	ErrStatusCodeMismatch  = errors.New("status code mismatch")
	ErrContentTypeMismatch = errors.New("content type mismatch")
	ErrNotFound            = errors.New("not found")
	ErrRequestFailed       = errors.New("request failed")
	ErrConflict            = errors.New("resource already exists")
)

// MakePost makes a post request with serialized 'out' structure which is send to the given 'url'.
// 'in' is a pointer to the structure to be deserialized from the received json data, may be nil.
func MakePost(timeout time.Duration, url string, out, in any) error {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("accept", "application/json")

	raw, err := json.Marshal(out)
	if err != nil {
		return err
	}
	req.SetBody(raw)

	return do(req, timeout, in)
}

// MakeGet makes a get request to the given 'url'.
// 'in' is a pointer to the structure to be deserialized from the received json data, may be nil.
func MakeGet(timeout time.Duration, url string, in any) error {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("accept", "application/json")

	return do(req, timeout, in)
}

func do(req *fasthttp.Request, timeout time.Duration, in any) error {
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	if err := fasthttp.DoTimeout(req, resp, timeout); err != nil {
		return errors.Join(ErrRequestFailed, err)
	}

	switch resp.StatusCode() {
	case fasthttp.StatusOK, fasthttp.StatusCreated, fasthttp.StatusAccepted:
	case fasthttp.StatusNoContent:
		return nil
	case fasthttp.StatusNotFound:
		return errors.Join(ErrNotFound, fmt.Errorf("resource %s", req.URI().Path()))
	case fasthttp.StatusConflict:
		return errors.Join(ErrConflict, ErrStatusCodeMismatch, fmt.Errorf("resource %s, %s", req.URI().Path(), resp.Body()))
	default:
		return errors.Join(
			ErrStatusCodeMismatch,
			fmt.Errorf("expected status code %d but got %d, %s", fasthttp.StatusOK, resp.StatusCode(), resp.Body()))
	}

	contentType := resp.Header.Peek("Content-Type")
	if !bytes.HasPrefix(contentType, []byte("application/json")) {
		return errors.Join(
			ErrContentTypeMismatch,
			fmt.Errorf("expected content type application/json but got %s", contentType))
	}

	if in != nil {
		return json.Unmarshal(resp.Body(), in)
	}
	return nil
}
