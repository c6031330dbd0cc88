package shuttled

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/shuttle-bridge/shuttle/node/pkg/devnet"
	"github.com/shuttle-bridge/shuttle/node/pkg/fees"
	"github.com/shuttle-bridge/shuttle/node/pkg/message"
)

func relayRecord(t *testing.T, fee uint64, secondary bool, gasLimit uint32) []byte {
	t.Helper()
	rec := &fees.RelayRecord{
		BackendKind:    fees.KindGenericRelay,
		FeeAmount:      uint256.NewInt(fee),
		SecondaryToken: secondary,
		GasLimit:       gasLimit,
	}
	data, err := rec.Serialize()
	require.NoError(t, err)
	return data
}

func devnetServices(t *testing.T) (*nodeServices, *devnet.Network) {
	t.Helper()
	network, err := devnet.Bootstrap(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, network.Close())
	})
	return &nodeServices{
		ledger:         network.Local.Ledger,
		custodian:      network.Local.Custodian,
		builder:        network.Local.Builder,
		processor:      network.Local.Processor,
		adapterReg:     network.Local.Adapters,
		counterparties: network.Local.Counterparties,
		dispatcher:     network.Local.Dispatcher,
	}, network
}

func serviceServer(t *testing.T) (*httptest.Server, *nodeServices, *devnet.Network) {
	t.Helper()
	svc, network := devnetServices(t)
	s := &serviceHandler{logger: zap.NewNop(), svc: svc}
	srv := httptest.NewServer(s.router())
	t.Cleanup(srv.Close)
	return srv, svc, network
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp
}

// settlementDelivery builds a message the settlement side would send: the
// principal and the return fee merged into one base-token pair.
func settlementDelivery(t *testing.T, network *devnet.Network, id message.ID, amount, fee uint64) *message.Inbound {
	t.Helper()
	env := &message.Envelope{
		Recipient: network.Local.User,
		Amount:    uint256.NewInt(amount),
		FeeRecord: relayRecord(t, fee, false, 150_000),
	}
	payload, err := env.Marshal()
	require.NoError(t, err)
	return &message.Inbound{
		ID:       id,
		Source:   devnet.SettlementSelector,
		Sender:   network.Settlement.Router,
		Tokens:   []message.TokenAmount{{Token: network.Settlement.BaseToken, Amount: uint256.NewInt(amount + fee)}},
		Envelope: payload,
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := serviceServer(t)

	resp, err := http.Get(srv.URL + "/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "ok", out.Status)
	assert.NotEmpty(t, out.Version)
}

func TestTransferEndpoint(t *testing.T) {
	srv, _, network := serviceServer(t)

	resp := postJSON(t, srv.URL+"/v1/transfer", transferRequest{
		Destination: uint64(devnet.SettlementSelector),
		Recipient:   network.Settlement.User.Hex(),
		Requester:   network.Local.User.Hex(),
		Token:       network.Local.BaseToken.Hex(),
		Amount:      "0x64",
		OutboundFee: hexutil.Encode(relayRecord(t, 10, false, 200_000)),
		ReturnFee:   hexutil.Encode(relayRecord(t, devnet.ReturnFee, false, 150_000)),
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out transferResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Len(t, out.ID, 64)

	// The loopback transport delivers synchronously, so the settlement side
	// settled the transfer before the response was written.
	settled := network.Settlement.Ledger
	assert.Equal(t, uint64(100), settled.Balance(network.Settlement.User, network.Settlement.DerivativeToken).Uint64())
}

func TestTransferEndpointRejectsBadAddress(t *testing.T) {
	srv, _, network := serviceServer(t)

	resp := postJSON(t, srv.URL+"/v1/transfer", transferRequest{
		Destination: uint64(devnet.SettlementSelector),
		Recipient:   "not-an-address",
		Requester:   network.Local.User.Hex(),
		Token:       network.Local.BaseToken.Hex(),
		Amount:      "0x64",
		OutboundFee: hexutil.Encode(relayRecord(t, 10, false, 200_000)),
		ReturnFee:   hexutil.Encode(relayRecord(t, devnet.ReturnFee, false, 150_000)),
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInboundEndpoint(t *testing.T) {
	srv, svc, network := serviceServer(t)

	msg := settlementDelivery(t, network, message.ID{0x01}, 40, devnet.ReturnFee)
	raw, err := msg.Marshal()
	require.NoError(t, err)

	resp := postJSON(t, srv.URL+"/v1/inbound", inboundRequest{Message: hexutil.Encode(raw)})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	l := network.Local.Ledger
	assert.True(t, l.Balance(network.Local.Custodian, network.Settlement.BaseToken).IsZero())
	assert.Equal(t, uint64(40), l.Balance(network.Local.Pool, network.Local.UnderlyingToken).Uint64())
	assert.Equal(t, uint64(40), l.Balance(network.Local.User, network.Local.DerivativeToken).Uint64())
	assert.Equal(t, devnet.ReturnFee, l.Balance(network.Local.Escrow, network.Settlement.BaseToken).Uint64())

	records, err := svc.processor.OutstandingFailures()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestInboundEndpointParksFailure(t *testing.T) {
	srv, svc, network := serviceServer(t)

	// The fee record underpays the quoted return fee, so the pipeline fails
	// and the message parks. Delivery still reports success.
	msg := settlementDelivery(t, network, message.ID{0x02}, 40, devnet.ReturnFee-1)
	raw, err := msg.Marshal()
	require.NoError(t, err)

	resp := postJSON(t, srv.URL+"/v1/inbound", inboundRequest{Message: hexutil.Encode(raw)})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The delivered funds stay in custody until the operator acts.
	l := network.Local.Ledger
	assert.Equal(t, 40+devnet.ReturnFee-1, l.Balance(network.Local.Custodian, network.Settlement.BaseToken).Uint64())

	records, err := svc.processor.OutstandingFailures()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, msg.ID, records[0].ID)

	listResp, err := http.Get(srv.URL + "/v1/failed")
	require.NoError(t, err)
	defer listResp.Body.Close()
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	var listed []failedRecordResponse
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&listed))
	require.Len(t, listed, 1)
	assert.Equal(t, msg.ID.String(), listed[0].ID)

	getResp, err := http.Get(srv.URL + "/v1/failed/" + msg.ID.String())
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	var rec failedRecordResponse
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&rec))
	assert.Equal(t, listed[0].Digest, rec.Digest)
}

func TestInboundEndpointIdempotentRedelivery(t *testing.T) {
	srv, svc, network := serviceServer(t)

	msg := settlementDelivery(t, network, message.ID{0x03}, 40, devnet.ReturnFee-1)
	raw, err := msg.Marshal()
	require.NoError(t, err)

	resp := postJSON(t, srv.URL+"/v1/inbound", inboundRequest{Message: hexutil.Encode(raw)})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	l := network.Local.Ledger
	attached := 40 + devnet.ReturnFee - 1
	require.Equal(t, attached, l.Balance(network.Local.Custodian, network.Settlement.BaseToken).Uint64())

	// Delivering the identical parked message again reports success but must
	// not credit custody a second time.
	resp = postJSON(t, srv.URL+"/v1/inbound", inboundRequest{Message: hexutil.Encode(raw)})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, attached, l.Balance(network.Local.Custodian, network.Settlement.BaseToken).Uint64())

	records, err := svc.processor.OutstandingFailures()
	require.NoError(t, err)
	require.Len(t, records, 1)

	// A different message under the parked id is rejected outright and
	// credits nothing.
	tampered := settlementDelivery(t, network, message.ID{0x03}, 41, devnet.ReturnFee-1)
	traw, err := tampered.Marshal()
	require.NoError(t, err)
	resp = postJSON(t, srv.URL+"/v1/inbound", inboundRequest{Message: hexutil.Encode(traw)})
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, attached, l.Balance(network.Local.Custodian, network.Settlement.BaseToken).Uint64())
}

func TestFailedEndpointUnknownID(t *testing.T) {
	srv, _, _ := serviceServer(t)

	unknown := message.ID{0xff}
	resp, err := http.Get(srv.URL + "/v1/failed/" + unknown.String())
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInboundEndpointRejectsGarbage(t *testing.T) {
	srv, _, _ := serviceServer(t)

	resp := postJSON(t, srv.URL+"/v1/inbound", inboundRequest{Message: "0x0102"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
