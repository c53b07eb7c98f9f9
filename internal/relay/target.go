package relay

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Target is the device address and call timeout.
// JSON field names follow the device configuration API.
type Target struct {
	Host      string `json:"ip"`
	Port      int    `json:"port"`
	TimeoutMS int    `json:"timeout"`
}

// BaseURL returns the device's HTTP base URL.
func (t Target) BaseURL() string {
	return "http://" + net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Timeout returns the per-call timeout.
func (t Target) Timeout() time.Duration {
	return time.Duration(t.TimeoutMS) * time.Millisecond
}

// Validate checks the target fields.
func (t Target) Validate() error {
	var errs []error
	if t.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if t.Port < 1 || t.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be 1-65535, got %d", t.Port))
	}
	if t.TimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %d", t.TimeoutMS))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidTarget, errors.Join(errs...))
	}
	return nil
}

// TargetPatch is a partial target update. Nil fields are left unchanged.
type TargetPatch struct {
	Host      *string `json:"ip,omitempty"`
	Port      *int    `json:"port,omitempty"`
	TimeoutMS *int    `json:"timeout,omitempty"`
}

// apply returns t with the patch's non-nil fields applied.
func (p TargetPatch) apply(t Target) Target {
	if p.Host != nil {
		t.Host = *p.Host
	}
	if p.Port != nil {
		t.Port = *p.Port
	}
	if p.TimeoutMS != nil {
		t.TimeoutMS = *p.TimeoutMS
	}
	return t
}
