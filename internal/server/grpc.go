package server

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"os"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/doc-digitizer/internal/common"
	"github.com/joseph-ayodele/doc-digitizer/internal/export"
	"github.com/joseph-ayodele/doc-digitizer/internal/repository"
)

const PipelineServiceName = "digitizer.v1.Pipeline"

// PipelineServer is the server API for digitizer.v1.Pipeline. Payloads are
// google.protobuf.Struct so no generated code is needed.
type PipelineServer interface {
	Submit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Report(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func RegisterPipelineServer(s grpc.ServiceRegistrar, srv PipelineServer) {
	s.RegisterService(&PipelineServiceDesc, srv)
}

func unaryHandler(method string, call func(PipelineServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PipelineServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + PipelineServiceName + "/" + method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(PipelineServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var PipelineServiceDesc = grpc.ServiceDesc{
	ServiceName: PipelineServiceName,
	HandlerType: (*PipelineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: unaryHandler("Submit", PipelineServer.Submit)},
		{MethodName: "Status", Handler: unaryHandler("Status", PipelineServer.Status)},
		{MethodName: "Report", Handler: unaryHandler("Report", PipelineServer.Report)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "digitizer/v1/pipeline.proto",
}

// PipelineClient is the client API for digitizer.v1.Pipeline.
type PipelineClient struct {
	cc grpc.ClientConnInterface
}

func NewPipelineClient(cc grpc.ClientConnInterface) *PipelineClient {
	return &PipelineClient{cc: cc}
}

func (c *PipelineClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+PipelineServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *PipelineClient) Submit(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Submit", in, opts...)
}

func (c *PipelineClient) Status(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Status", in, opts...)
}

func (c *PipelineClient) Report(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Report", in, opts...)
}

// RunStore is the read side of the ledger; *repository.Ledger implements it.
type RunStore interface {
	GetRun(ctx context.Context, runID string) (repository.RunRecord, error)
	LatestRun(ctx context.Context) (repository.RunRecord, error)
	ListDocuments(ctx context.Context, runID string) ([]repository.DocumentRecord, error)
}

// GRPCServer implements PipelineServer on top of PipelineService.
type GRPCServer struct {
	svc      *PipelineService
	runs     RunStore
	exporter *export.Service
	logger   *slog.Logger
}

// NewGRPCServer builds the gRPC front. runs may be nil, which disables Report.
func NewGRPCServer(svc *PipelineService, runs RunStore, exporter *export.Service, logger *slog.Logger) *GRPCServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCServer{svc: svc, runs: runs, exporter: exporter, logger: logger}
}

func stringField(in *structpb.Struct, key string) string {
	if in == nil {
		return ""
	}
	return strings.TrimSpace(in.GetFields()[key].GetStringValue())
}

// Submit queues a file already on the daemon's filesystem: {path} -> {task_id, status}.
func (s *GRPCServer) Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	path := stringField(in, "path")
	if err := common.ValidateAndReturnError(common.NewValidator().Field("path", path, common.Required)); err != nil {
		s.logger.Error("submit request validation failed", "error", err)
		return nil, err
	}
	if fi, err := os.Stat(path); err != nil || fi.IsDir() {
		return nil, common.InvalidArgumentError("path must be an existing file")
	}
	if _, ok := KindFor(path); !ok {
		return nil, common.InvalidArgumentError(ErrUnsupportedType.Error())
	}

	t, err := s.svc.Submit(ctx, path, false)
	if err != nil {
		s.logger.Error("submit failed", "path", path, "error", err)
		return nil, common.UnavailableError("submit: " + err.Error())
	}
	return structpb.NewStruct(map[string]any{
		"task_id": t.ID,
		"status":  string(t.Status),
	})
}

// Status returns {task_id, filename, kind, status, state, score, passed, error}.
func (s *GRPCServer) Status(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(in, "task_id")
	if err := common.ValidateAndReturnError(common.NewValidator().Field("task_id", id, common.Required, common.UUID)); err != nil {
		return nil, err
	}
	t, ok := s.svc.Tasks().Get(id)
	if !ok {
		return nil, common.NotFoundErrorf("task %s not found", id)
	}
	return structpb.NewStruct(map[string]any{
		"task_id":  t.ID,
		"filename": t.Filename,
		"kind":     string(t.Kind),
		"status":   string(t.Status),
		"state":    string(t.State),
		"score":    t.Score,
		"passed":   t.Passed,
		"error":    t.Error,
	})
}

// Report renders the XLSX report of a run from the ledger: {run_id?} ->
// {run_id, filename, xlsx_base64}. An empty run_id means the latest run.
func (s *GRPCServer) Report(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.runs == nil || s.exporter == nil {
		return nil, status.Error(codes.FailedPrecondition, "no ledger configured")
	}
	id := stringField(in, "run_id")
	if id != "" {
		if err := common.ValidateAndReturnError(common.NewValidator().Field("run_id", id, common.UUID)); err != nil {
			return nil, err
		}
	}
	var (
		run repository.RunRecord
		err error
	)
	if id == "" {
		run, err = s.runs.LatestRun(ctx)
	} else {
		run, err = s.runs.GetRun(ctx, id)
	}
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.NotFoundError("run not found")
	}
	if err != nil {
		s.logger.Error("report run lookup failed", "run_id", id, "error", err)
		return nil, common.InternalError("load run failed")
	}

	docs, err := s.runs.ListDocuments(ctx, run.ID)
	if err != nil {
		s.logger.Error("report documents lookup failed", "run_id", run.ID, "error", err)
		return nil, common.InternalError("load documents failed")
	}
	sum := export.SummaryFromRun(run, len(docs))
	data, err := s.exporter.BuildBatchReport(sum, export.RowsFromRecords(docs))
	if err != nil {
		s.logger.Error("report build failed", "run_id", run.ID, "error", err)
		return nil, common.InternalErrorf("build report for run %s failed", run.ID)
	}
	return structpb.NewStruct(map[string]any{
		"run_id":      run.ID,
		"filename":    "digitizer_" + run.ID + ".xlsx",
		"xlsx_base64": base64.StdEncoding.EncodeToString(data),
	})
}
