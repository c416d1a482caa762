package exporters

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	headers, err := ParseHeaders([]string{"x-api-key = abc", "", "tenant=fern=1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"x-api-key": "abc", "tenant": "fern=1"}, headers)

	_, err = ParseHeaders([]string{"novalue"})
	assert.Error(t, err)
	_, err = ParseHeaders([]string{"=v"})
	assert.Error(t, err)
}

func TestSplitEndpoint(t *testing.T) {
	tests := []struct {
		endpoint, protocol string
		host, proto        string
		secure             bool
	}{
		{"localhost:4317", "", "localhost:4317", "grpc", false},
		{"localhost:4318", "HTTP", "localhost:4318", "http", false},
		{"http://collector:4318", "grpc", "collector:4318", "http", false},
		{"https://collector:4318", "", "collector:4318", "http", true},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			host, proto, secure := splitEndpoint(tt.endpoint, tt.protocol)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.proto, proto)
			assert.Equal(t, tt.secure, secure)
		})
	}
}

func TestNewOTLPExporterRejectsUnknownProtocol(t *testing.T) {
	_, err := NewOTLPExporter(context.Background(), OTLPConfig{Endpoint: "localhost:4317", Protocol: "udp"})
	assert.Error(t, err)
}
