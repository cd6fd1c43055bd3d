package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

type listRequest struct {
	State string `query:"state" default:"all" validate:"oneof=all open closed"`
	Limit int    `query:"limit" default:"100" validate:"gte=1,lte=1000"`
}

func TestReadAndValidateRequest(t *testing.T) {
	tests := []struct {
		name      string
		method    string
		target    string
		wantField string
		wantCode  string
		want      listRequest
	}{
		{name: "defaults", method: http.MethodGet, target: "/", want: listRequest{State: "all", Limit: 100}},
		{name: "query on post", method: http.MethodPost, target: "/?state=open&limit=5", want: listRequest{State: "open", Limit: 5}},
		{name: "bad state", method: http.MethodGet, target: "/?state=pending", wantField: "state", wantCode: "ERR_ONEOF"},
		{name: "limit too high", method: http.MethodGet, target: "/?limit=5000", wantField: "limit", wantCode: "ERR_LTE"},
		{name: "limit not a number", method: http.MethodGet, target: "/?limit=abc", wantCode: "ERR_BIND"},
	}
	e := echo.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := e.NewContext(httptest.NewRequest(tt.method, tt.target, nil), httptest.NewRecorder())
			var req listRequest
			errs := ReadAndValidateRequest(c, &req)
			if tt.wantCode == "" {
				if errs != nil {
					t.Fatalf("unexpected errors %+v", errs)
				}
				if req != tt.want {
					t.Fatalf("got %+v, want %+v", req, tt.want)
				}
				return
			}
			if len(errs) != 1 || errs[0].Code != tt.wantCode || errs[0].Field != tt.wantField {
				t.Fatalf("expected %s on %q, got %+v", tt.wantCode, tt.wantField, errs)
			}
		})
	}
}
