package exitcode

import (
	"errors"
	"fmt"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrNotFound, "worker not found")
	if err.Code != ErrNotFound {
		t.Errorf("Code = %d, want %d", err.Code, ErrNotFound)
	}
	if err.Message != "worker not found" {
		t.Errorf("Message = %q, want %q", err.Message, "worker not found")
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(ErrGeneral, "spawn failed", cause)

	if err.Code != ErrGeneral {
		t.Errorf("Code = %d, want %d", err.Code, ErrGeneral)
	}
	if !errors.Is(err, cause) {
		t.Error("Wrap should preserve cause for errors.Is")
	}
}

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "without cause",
			err:  New(ErrNotFound, "worker builder not found"),
			want: "worker builder not found",
		},
		{
			name: "with cause",
			err:  Wrap(ErrGeneral, "spawn failed", errors.New("tmux unavailable")),
			want: "spawn failed: tmux unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil error", nil, Success},
		{"coded error", New(ErrNotFound, "not found"), ErrNotFound},
		{"wrapped coded", fmt.Errorf("context: %w", WorkerNotFound("x")), ErrNotFound},
		{"plain error", errors.New("plain"), ErrGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Code(tt.err); got != tt.want {
				t.Errorf("Code() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWorkerNotFound(t *testing.T) {
	err := WorkerNotFound("builder")
	if err.Code != ErrNotFound {
		t.Errorf("Code = %d, want %d", err.Code, ErrNotFound)
	}
	if err.Error() != "worker not found: builder" {
		t.Errorf("Error() = %q", err.Error())
	}
}
