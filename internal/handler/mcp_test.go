package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"gtm-datalayer/internal/adapter"
	"gtm-datalayer/internal/inject"
	"gtm-datalayer/internal/model"
	"gtm-datalayer/internal/scripts"
	"gtm-datalayer/internal/shopify"
)

// connectMCP serves the handler's routes and opens a streamable HTTP client
// session against /mcp.
func connectMCP(t *testing.T, mock *adapter.Mock) *mcp.ClientSession {
	t.Helper()
	env := newTestEnv(t, mock, false)
	srv := httptest.NewServer(env.mux)
	t.Cleanup(srv.Close)

	client := mcp.NewClient(&mcp.Implementation{Name: "tagcheck-test", Version: "v0.0.1"}, nil)
	session, err := client.Connect(context.Background(), &mcp.StreamableClientTransport{
		Endpoint:   srv.URL + "/mcp",
		HTTPClient: srv.Client(),
	}, nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callText(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s) error = %v", name, err)
	}
	if len(res.Content) == 0 {
		t.Fatalf("CallTool(%s) returned no content", name)
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s) content is %T, want *mcp.TextContent", name, res.Content[0])
	}
	return text.Text, res.IsError
}

func TestMCPListsOperatorTools(t *testing.T) {
	session := connectMCP(t, &adapter.Mock{})

	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	for _, want := range []string{"enable_tag_manager", "enable_datalayer", "disable_datalayer", "enable_pixel", "fetch_pixel_source"} {
		if !slices.Contains(names, want) {
			t.Errorf("tool %q missing from %v", want, names)
		}
	}
}

func TestMCPEnableDataLayer(t *testing.T) {
	var gotParams scripts.Params
	mock := &adapter.Mock{
		EnableDataLayerFunc: func(ctx context.Context, shop, token string, p scripts.Params) (*inject.Deployment, error) {
			gotParams = p
			return &inject.Deployment{ThemeID: 4, Changed: true, Version: scripts.Version}, nil
		},
	}
	session := connectMCP(t, mock)

	text, isErr := callText(t, session, "enable_datalayer", map[string]any{
		"shop":         testShop,
		"access_token": testToken,
		"container_id": "GTM-ABC123",
	})
	if isErr {
		t.Fatalf("tool error: %s", text)
	}
	var dep inject.Deployment
	if err := json.Unmarshal([]byte(text), &dep); err != nil {
		t.Fatalf("deployment is not JSON: %s", text)
	}
	if dep.ThemeID != 4 || !dep.Changed {
		t.Errorf("deployment = %+v", dep)
	}
	if gotParams.ContainerID != "GTM-ABC123" {
		t.Errorf("ContainerID = %q, want GTM-ABC123", gotParams.ContainerID)
	}
}

func TestMCPToolErrors(t *testing.T) {
	mock := &adapter.Mock{
		EnablePixelFunc: func(ctx context.Context, shop, token string, p scripts.Params) (*shopify.WebPixel, error) {
			return nil, model.NewUpstreamError("webPixelCreate", errors.New("throttled"))
		},
		DisableDataLayerFunc: func(ctx context.Context, shop, token string) (*inject.Deployment, error) {
			return nil, errors.New("dial tcp 10.0.0.3:5432: connection refused")
		},
	}
	session := connectMCP(t, mock)

	tests := []struct {
		name     string
		tool     string
		args     map[string]any
		want     string
		unwanted string
	}{
		{
			name: "validation",
			tool: "enable_tag_manager",
			args: map[string]any{"shop": "demo.example.com", "access_token": testToken, "container_id": "GTM-ABC123"},
			want: "VALIDATION_ERROR",
		},
		{
			name: "upstream",
			tool: "enable_pixel",
			args: map[string]any{"shop": testShop, "access_token": testToken, "container_id": "GTM-ABC123"},
			want: "UPSTREAM_ERROR",
		},
		{
			name:     "internal details hidden",
			tool:     "disable_datalayer",
			args:     map[string]any{"shop": testShop, "access_token": testToken},
			want:     "internal error",
			unwanted: "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, isErr := callText(t, session, tt.tool, tt.args)
			if !isErr {
				t.Fatalf("expected tool error, got %s", text)
			}
			if !strings.Contains(text, tt.want) {
				t.Errorf("text = %q, want it to contain %q", text, tt.want)
			}
			if tt.unwanted != "" && strings.Contains(text, tt.unwanted) {
				t.Errorf("text = %q leaks %q", text, tt.unwanted)
			}
		})
	}
}

func TestMCPFetchPixelSource(t *testing.T) {
	session := connectMCP(t, failingMock(t))

	text, isErr := callText(t, session, "fetch_pixel_source", map[string]any{"container_id": "GTM-ABC123"})
	if isErr {
		t.Fatalf("tool error: %s", text)
	}
	var out PixelSourceOutput
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		t.Fatalf("output is not JSON: %s", text)
	}
	if !strings.Contains(out.Source, "GTM-ABC123") {
		t.Error("pixel source does not carry the container id")
	}

	_, isErr = callText(t, session, "fetch_pixel_source", map[string]any{"container_id": "UA-1"})
	if !isErr {
		t.Error("expected an error for a malformed container id")
	}
}
