package main

import (
	"testing"
	"time"
)

func TestParseFlags(t *testing.T) {
	t.Setenv("ROOMWATCH_API", "")

	tests := []struct {
		name    string
		args    []string
		env     string
		want    options
		wantErr bool
	}{
		{
			name: "room flag",
			args: []string{"-room", "r1"},
			want: options{APIURL: "http://localhost:8080", RoomID: "r1", PollInterval: 5 * time.Second},
		},
		{
			name: "positional room and env api",
			args: []string{"-poll", "2s", "r2"},
			env:  "http://api.test",
			want: options{APIURL: "http://api.test", RoomID: "r2", PollInterval: 2 * time.Second},
		},
		{
			name:    "missing room",
			args:    []string{},
			wantErr: true,
		},
		{
			name:    "zero poll",
			args:    []string{"-room", "r1", "-poll", "0s"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ROOMWATCH_API", tt.env)

			got, err := parseFlags(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %+v, got %+v", tt.want, got)
			}
		})
	}
}
