package config

import (
	"reflect"
	"testing"
)

func TestParseEnvEntries(t *testing.T) {
	tests := []struct {
		name    string
		entries []string
		want    map[string]string
		wantErr bool
	}{
		{"empty", nil, nil, false},
		{"single", []string{"FOO=bar"}, map[string]string{"FOO": "bar"}, false},
		{"value with equals", []string{"URL=http://x?a=b"}, map[string]string{"URL": "http://x?a=b"}, false},
		{"empty value", []string{"FOO="}, map[string]string{"FOO": ""}, false},
		{"missing equals", []string{"FOO"}, nil, true},
		{"empty key", []string{"=bar"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEnvEntries(tt.entries)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEnvEntries() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseEnvEntries() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEnvWrap(t *testing.T) {
	argv := []string{"claude", "--verbose"}

	t.Run("empty env passes through", func(t *testing.T) {
		if got := EnvWrap(argv, nil); !reflect.DeepEqual(got, argv) {
			t.Errorf("EnvWrap() = %v, want %v", got, argv)
		}
	})

	t.Run("keys are sorted for determinism", func(t *testing.T) {
		env := map[string]string{"ZED": "1", "ALPHA": "2"}
		want := []string{"env", "ALPHA=2", "ZED=1", "claude", "--verbose"}
		if got := EnvWrap(argv, env); !reflect.DeepEqual(got, want) {
			t.Errorf("EnvWrap() = %v, want %v", got, want)
		}
	})
}
