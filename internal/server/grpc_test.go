package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"net"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/doc-digitizer/internal/export"
	"github.com/joseph-ayodele/doc-digitizer/internal/repository"
)

func startGRPC(t *testing.T, svc *PipelineService, runs RunStore) *PipelineClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	RegisterPipelineServer(s, NewGRPCServer(svc, runs, export.NewService(quietLogger()), quietLogger()))
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewPipelineClient(conn)
}

func openLedger(t *testing.T) *repository.Ledger {
	t.Helper()
	db, err := repository.Open(context.Background(), repository.Config{DSN: "file::memory:"}, quietLogger())
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(db.Close)
	return repository.NewLedger(db, quietLogger())
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestGRPCSubmitStatusReport(t *testing.T) {
	ledger := openLedger(t)
	svc := newTestService(t, newFakeProc(), ledger)
	client := startGRPC(t, svc, ledger)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	path := writeFile(t, t.TempDir(), "manual.pdf", "%PDF-1.4 manual")
	out, err := client.Submit(ctx, mustStruct(t, map[string]any{"path": path}))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	id := out.GetFields()["task_id"].GetStringValue()
	if id == "" {
		t.Fatalf("no task id in %v", out)
	}
	waitTask(t, svc, id)

	st, err := client.Status(ctx, mustStruct(t, map[string]any{"task_id": id}))
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	f := st.GetFields()
	if f["status"].GetStringValue() != string(TaskCompleted) || f["state"].GetStringValue() != "scored" {
		t.Errorf("status = %v", st)
	}
	if f["score"].GetNumberValue() != 92 || !f["passed"].GetBoolValue() {
		t.Errorf("score/passed = %v", st)
	}

	// files submitted by path belong to the caller
	if _, err := os.Stat(path); err != nil {
		t.Errorf("submitted file removed: %v", err)
	}

	rep, err := client.Report(ctx, mustStruct(t, map[string]any{}))
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if got := rep.GetFields()["run_id"].GetStringValue(); got != id {
		t.Errorf("report run_id = %q, want %q", got, id)
	}
	raw, err := base64.StdEncoding.DecodeString(rep.GetFields()["xlsx_base64"].GetStringValue())
	if err != nil {
		t.Fatal(err)
	}
	wb, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer wb.Close()
	rows, err := wb.GetRows(export.SummarySheet)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) == 0 || len(rows[0]) < 2 || rows[0][1] != id {
		t.Errorf("summary rows = %v", rows)
	}
}

func TestGRPCErrors(t *testing.T) {
	svc := newTestService(t, newFakeProc(), nil)
	client := startGRPC(t, svc, nil)
	ctx := context.Background()

	cases := []struct {
		name string
		call func() error
		code codes.Code
	}{
		{"submit without path", func() error {
			_, err := client.Submit(ctx, mustStruct(t, map[string]any{}))
			return err
		}, codes.InvalidArgument},
		{"submit missing file", func() error {
			_, err := client.Submit(ctx, mustStruct(t, map[string]any{"path": "/does/not/exist.pdf"}))
			return err
		}, codes.InvalidArgument},
		{"submit unsupported type", func() error {
			p := writeFile(t, t.TempDir(), "deck.pptx", "PK")
			_, err := client.Submit(ctx, mustStruct(t, map[string]any{"path": p}))
			return err
		}, codes.InvalidArgument},
		{"status malformed task id", func() error {
			_, err := client.Status(ctx, mustStruct(t, map[string]any{"task_id": "nope"}))
			return err
		}, codes.InvalidArgument},
		{"status unknown task", func() error {
			_, err := client.Status(ctx, mustStruct(t, map[string]any{"task_id": uuid.New().String()}))
			return err
		}, codes.NotFound},
		{"report without ledger", func() error {
			_, err := client.Report(ctx, mustStruct(t, map[string]any{}))
			return err
		}, codes.FailedPrecondition},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.call()
			if status.Code(err) != c.code {
				t.Fatalf("code = %v (%v), want %v", status.Code(err), err, c.code)
			}
		})
	}
}

func TestGRPCReportUnknownRun(t *testing.T) {
	ledger := openLedger(t)
	client := startGRPC(t, newTestService(t, newFakeProc(), ledger), ledger)

	_, err := client.Report(context.Background(), mustStruct(t, map[string]any{"run_id": uuid.New().String()}))
	if status.Code(err) != codes.NotFound {
		t.Fatalf("code = %v, want NotFound", status.Code(err))
	}
}
