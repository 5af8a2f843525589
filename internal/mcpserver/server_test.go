package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ostrander/medvault/internal/ledger"
	"github.com/ostrander/medvault/internal/recordservice"
)

const (
	ownerAddr  = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	doctorAddr = "0xcccccccccccccccccccccccccccccccccccccccc"
)

type fakeIdentity struct {
	addr string
}

func (f *fakeIdentity) Current() (string, error) {
	if f.addr == "" {
		return "", errors.New("not connected")
	}
	return f.addr, nil
}

type fakePinner struct {
	content map[string][]byte
	n       int
}

func (p *fakePinner) PinFile(_ context.Context, _ string, payload []byte) (string, error) {
	p.n++
	cid := fmt.Sprintf("bafytest%04d", p.n)
	if p.content == nil {
		p.content = make(map[string][]byte)
	}
	p.content[cid] = payload
	return cid, nil
}

func (p *fakePinner) Fetch(_ context.Context, cid string) ([]byte, error) {
	data, ok := p.content[cid]
	if !ok {
		return nil, fmt.Errorf("unknown cid %s", cid)
	}
	return data, nil
}

func (p *fakePinner) GatewayURL(cid string) string { return "https://gateway.test/ipfs/" + cid }

func testServer(t *testing.T) (*Server, *recordservice.Service, *fakeIdentity) {
	t.Helper()

	dbFile, err := os.CreateTemp("", "medvault-mcp-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := ledger.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := recordservice.NewService(db, &fakePinner{}, nil, nil, logger)
	ident := &fakeIdentity{addr: ownerAddr}
	return New(svc, ident), svc, ident
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_records":
		result, err = srv.listRecords(ctx, req)
	case "get_record":
		result, err = srv.getRecord(ctx, req)
	case "grant_access":
		result, err = srv.grantAccess(ctx, req)
	case "revoke_access":
		result, err = srv.revokeAccess(ctx, req)
	case "shared_with_me":
		result, err = srv.sharedWithMe(ctx, req)
	case "audit_trail":
		result, err = srv.auditTrail(ctx, req)
	case "chain_access":
		result, err = srv.chainAccess(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestListAndGetRecord(t *testing.T) {
	srv, svc, _ := testServer(t)
	rec, err := svc.Upload(context.Background(), ownerAddr, "labs.pdf", "", []byte("cbc"))
	if err != nil {
		t.Fatal(err)
	}

	r := callTool(t, srv, "list_records", map[string]interface{}{})
	if !strings.Contains(resultText(r), "labs.pdf") {
		t.Errorf("list missing record: %q", resultText(r))
	}

	r = callTool(t, srv, "get_record", map[string]interface{}{"record_id": rec.ID})
	if !strings.Contains(resultText(r), rec.CID) {
		t.Errorf("get missing cid: %q", resultText(r))
	}
}

func TestGrantAndRevoke(t *testing.T) {
	srv, svc, _ := testServer(t)
	rec, err := svc.Upload(context.Background(), ownerAddr, "rx.pdf", "", []byte("rx"))
	if err != nil {
		t.Fatal(err)
	}

	r := callTool(t, srv, "grant_access", map[string]interface{}{
		"record_id": rec.ID,
		"grantee":   doctorAddr,
	})
	if r.IsError {
		t.Fatalf("grant error: %q", resultText(r))
	}
	if !strings.Contains(resultText(r), "granted") {
		t.Errorf("grant result = %q", resultText(r))
	}

	// Bad address is a tool error, not a panic.
	r = callTool(t, srv, "grant_access", map[string]interface{}{
		"record_id": rec.ID,
		"grantee":   "nope",
	})
	if !r.IsError {
		t.Error("expected error for malformed grantee")
	}

	r = callTool(t, srv, "revoke_access", map[string]interface{}{
		"record_id": rec.ID,
		"grantee":   doctorAddr,
	})
	if r.IsError {
		t.Fatalf("revoke error: %q", resultText(r))
	}
}

func TestSharedWithMe(t *testing.T) {
	srv, svc, ident := testServer(t)
	rec, err := svc.Upload(context.Background(), ownerAddr, "mri.dcm", "", []byte("mri"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Grant(context.Background(), ownerAddr, rec.ID, doctorAddr); err != nil {
		t.Fatal(err)
	}

	ident.addr = doctorAddr
	r := callTool(t, srv, "shared_with_me", map[string]interface{}{})
	if !strings.Contains(resultText(r), "mri.dcm") {
		t.Errorf("shared missing record: %q", resultText(r))
	}

	ident.addr = ownerAddr
	r = callTool(t, srv, "shared_with_me", map[string]interface{}{})
	if resultText(r) != "no records shared with you" {
		t.Errorf("owner shared = %q", resultText(r))
	}
}

func TestAuditTrail(t *testing.T) {
	srv, svc, _ := testServer(t)
	if _, err := svc.Upload(context.Background(), ownerAddr, "doc.pdf", "", []byte("x")); err != nil {
		t.Fatal(err)
	}

	r := callTool(t, srv, "audit_trail", map[string]interface{}{})
	if !strings.Contains(resultText(r), "upload") {
		t.Errorf("audit missing upload entry: %q", resultText(r))
	}
}

// fakeRegistry answers the chain-read interface from mirrored grants.
type fakeRegistry struct {
	granted map[string]bool
}

func (r *fakeRegistry) GrantAccess(_ context.Context, grantee, cid string) error {
	if r.granted == nil {
		r.granted = map[string]bool{}
	}
	r.granted[grantee+":"+cid] = true
	return nil
}

func (r *fakeRegistry) RevokeAccess(_ context.Context, grantee, cid string) error {
	delete(r.granted, grantee+":"+cid)
	return nil
}

func (r *fakeRegistry) HasAccess(_ context.Context, _, grantee, cid string) (bool, error) {
	return r.granted[grantee+":"+cid], nil
}

func (r *fakeRegistry) AccessCount(_ context.Context, cid string) (*big.Int, error) {
	n := int64(0)
	for k := range r.granted {
		if strings.HasSuffix(k, ":"+cid) {
			n++
		}
	}
	return big.NewInt(n), nil
}

func TestChainAccessTool(t *testing.T) {
	srv, svc, _ := testServer(t)
	rec, err := svc.Upload(context.Background(), ownerAddr, "ct.dcm", "", []byte("ct"))
	if err != nil {
		t.Fatal(err)
	}

	// No mirror configured.
	r := callTool(t, srv, "chain_access", map[string]interface{}{
		"record_id": rec.ID,
		"grantee":   doctorAddr,
	})
	if !r.IsError || resultText(r) != "chain mirror disabled" {
		t.Fatalf("without mirror = %q, IsError=%v", resultText(r), r.IsError)
	}
}

func TestChainAccessToolWithRegistry(t *testing.T) {
	dbFile, err := os.CreateTemp("", "medvault-mcp-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := ledger.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := recordservice.NewService(db, &fakePinner{}, &fakeRegistry{}, nil, logger)
	srv := New(svc, &fakeIdentity{addr: ownerAddr})

	rec, err := svc.Upload(context.Background(), ownerAddr, "ct.dcm", "", []byte("ct"))
	if err != nil {
		t.Fatal(err)
	}

	r := callTool(t, srv, "grant_access", map[string]interface{}{
		"record_id": rec.ID,
		"grantee":   doctorAddr,
	})
	if r.IsError {
		t.Fatalf("grant error: %q", resultText(r))
	}

	r = callTool(t, srv, "chain_access", map[string]interface{}{
		"record_id": rec.ID,
		"grantee":   doctorAddr,
	})
	if r.IsError {
		t.Fatalf("chain_access error: %q", resultText(r))
	}
	if !strings.Contains(resultText(r), `"granted": true`) {
		t.Errorf("chain_access = %q", resultText(r))
	}
}

func TestToolsRequireSession(t *testing.T) {
	srv, _, ident := testServer(t)
	ident.addr = ""

	r := callTool(t, srv, "list_records", map[string]interface{}{})
	if !r.IsError {
		t.Error("expected error without a session")
	}
}
