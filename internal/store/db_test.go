package store

import (
	"testing"
	"time"
)

func TestPoolOptionsDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   PoolOptions
		want PoolOptions
	}{
		{name: "zero", in: PoolOptions{}, want: PoolOptions{MaxOpen: 20, MaxIdle: 10, MaxLifetime: 30 * time.Minute}},
		{name: "idle capped by open", in: PoolOptions{MaxOpen: 4, MaxIdle: 8}, want: PoolOptions{MaxOpen: 4, MaxIdle: 2, MaxLifetime: 30 * time.Minute}},
		{name: "explicit", in: PoolOptions{MaxOpen: 5, MaxIdle: 5, MaxLifetime: time.Minute, ConnectWait: time.Second}, want: PoolOptions{MaxOpen: 5, MaxIdle: 5, MaxLifetime: time.Minute, ConnectWait: time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.withDefaults(); got != tt.want {
				t.Fatalf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}
