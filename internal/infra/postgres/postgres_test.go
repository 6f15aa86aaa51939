package postgres

import (
	"testing"

	"github.com/sifan077/PowerPush/config"
)

func TestConnString(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.PostgresConfig
		want string
	}{
		{
			name: "defaults",
			cfg:  config.PostgresConfig{User: "push", Database: "pushes"},
			want: "postgres://push@localhost:5432/pushes?sslmode=disable",
		},
		{
			name: "escapes credentials",
			cfg:  config.PostgresConfig{Host: "db", Port: 6543, User: "a b", Password: "p/w", Database: "x", SSLMode: "require"},
			want: "postgres://a%20b:p%2Fw@db:6543/x?sslmode=require",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ConnString(tc.cfg); got != tc.want {
				t.Fatalf("ConnString() = %q, want %q", got, tc.want)
			}
		})
	}
}
