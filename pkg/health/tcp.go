package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPChecker reports whether a TCP listener accepts connections
type TCPChecker struct {
	name    string
	Address string
}

// NewTCPChecker creates a checker for address reported as name
func NewTCPChecker(name, address string) *TCPChecker {
	return &TCPChecker{name: name, Address: address}
}

// Check dials the address within the context deadline
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("connection failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	defer conn.Close()

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("TCP connection to %s successful", t.Address),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Name implements Checker
func (t *TCPChecker) Name() string {
	return t.name
}

// FuncChecker adapts a check function, typically an RPC, to Checker
type FuncChecker struct {
	name  string
	check func(ctx context.Context) error
}

// NewFuncChecker creates a checker reported as name. A nil error from
// check is healthy.
func NewFuncChecker(name string, check func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, check: check}
}

// Check implements Checker
func (f *FuncChecker) Check(ctx context.Context) Result {
	start := time.Now()
	if err := f.check(ctx); err != nil {
		return Result{Message: err.Error(), CheckedAt: start, Duration: time.Since(start)}
	}
	return Result{Healthy: true, Message: "ok", CheckedAt: start, Duration: time.Since(start)}
}

// Name implements Checker
func (f *FuncChecker) Name() string {
	return f.name
}
