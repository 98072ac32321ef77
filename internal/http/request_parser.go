// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating request data.
// Bodies may be JSON or form-encoded; numeric fields accept numbers or
// strings and are converted under the configured NumericPolicy.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"dealbook/internal/core"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// requestError is a malformed request; it maps to 400.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

// Number holds a numeric field as sent: a JSON number or a string.
type Number struct {
	raw string
	set bool
}

func (n *Number) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	n.set = true
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &n.raw)
	}
	n.raw = string(b)
	return nil
}

// NumberOf builds a Number from a query or form value; empty means unset.
func NumberOf(s string) Number {
	s = strings.TrimSpace(s)
	return Number{raw: s, set: s != ""}
}

// IsSet reports whether the field was present.
func (n Number) IsSet() bool { return n.set }

// Decimal converts the field under policy. An unset field is zero.
func (n Number) Decimal(policy core.NumericPolicy) (decimal.Decimal, error) {
	d, err := core.ParseDecimal(n.raw, policy)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", err, n.raw)
	}
	return d, nil
}

// Ptr returns nil for an unset field, else the converted value.
func (n Number) Ptr(policy core.NumericPolicy) (*decimal.Decimal, error) {
	if !n.set {
		return nil, nil
	}
	d, err := n.Decimal(policy)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// decodeBody fills dst from a JSON or form-encoded body and validates it.
// Form values are mapped onto dst's JSON field names.
func decodeBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return badRequest("read body: %v", err)
	}
	if len(body) > maxBodyBytes {
		return badRequest("request body too large")
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		if body, err = formToJSON(body); err != nil {
			return badRequest("invalid form body: %v", err)
		}
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		body = []byte("{}")
	}

	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return validate.Struct(dst)
}

func formToJSON(body []byte) ([]byte, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, err
	}
	flat := make(map[string]string, len(values))
	for k := range values {
		flat[k] = sanitizeInput(values.Get(k))
	}
	return json.Marshal(flat)
}

// validationMessages lists failed fields by their JSON names.
func validationMessages(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}

// sanitizeInput trims and removes control characters except tab, newline and
// carriage return.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
