package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestIncResponseBucketsUnknownTokens(t *testing.T) {
	before := testutil.ToFloat64(ResponsesReceivedTotal.WithLabelValues("other"))
	IncResponse("/something_new", false)
	IncResponse("/another", false)
	assert.Equal(t, before+2, testutil.ToFloat64(ResponsesReceivedTotal.WithLabelValues("other")))
}

func TestSetBrokerConnected(t *testing.T) {
	SetBrokerConnected(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(BrokerConnected))
	SetBrokerConnected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(BrokerConnected))
}

func TestIncUnauthorizedDefaultsChannel(t *testing.T) {
	before := testutil.ToFloat64(UnauthorizedTotal.WithLabelValues("unknown"))
	IncUnauthorized("")
	assert.Equal(t, before+1, testutil.ToFloat64(UnauthorizedTotal.WithLabelValues("unknown")))
}
