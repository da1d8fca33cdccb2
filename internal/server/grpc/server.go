package grpc

import (
	"context"
	"net"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/api"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/server/catalog"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/providers"
	"github.com/dmitrijs2005/gophsync/internal/server/ratelimit"
	"github.com/dmitrijs2005/gophsync/internal/server/syncer"
	"github.com/dmitrijs2005/gophsync/internal/server/uploads"
	"golang.org/x/oauth2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Catalog is implemented by *catalog.Service.
type Catalog interface {
	ListConnections(ctx context.Context, userID string) ([]models.ConnectionSummary, error)
	ListGalleryFiles(ctx context.Context, userID, galleryID string, opts catalog.ListOptions) ([]models.FileSummary, error)
	UpdateFile(ctx context.Context, userID, fileID string, p catalog.Patch) (*models.FileSummary, error)
	DeleteFile(ctx context.Context, userID, fileID string) error
	RestoreFile(ctx context.Context, userID, fileID string) (*models.FileSummary, error)
	FileLink(ctx context.Context, userID, fileID string) (string, time.Time, error)
	ResolveLink(ctx context.Context, link string) (string, error)
	RateLimitSnapshot(ctx context.Context) []ratelimit.Usage
	ListConflicts(ctx context.Context, userID string, status models.ConflictStatus) ([]*models.SyncConflict, error)
	ResolveConflict(ctx context.Context, userID, conflictID, resolution string) error
}

type Uploader interface {
	Upload(ctx context.Context, req uploads.Request) (*models.FileSummary, error)
}

type Folders interface {
	EnsureGalleryFolder(ctx context.Context, userID, galleryID string, kind providers.Kind) (*models.FolderMapping, error)
}

type Connections interface {
	Connect(ctx context.Context, userID string, kind providers.Kind, tok *oauth2.Token) (*models.ConnectionSummary, error)
}

type Syncer interface {
	Run(ctx context.Context, userID string, kind providers.Kind) (*syncer.RunResult, error)
}

// Services are the engine components behind the API.
type Services struct {
	Catalog     Catalog
	Uploads     Uploader
	Folders     Folders
	Connections Connections
	Syncer      Syncer
}

type GRPCServer struct {
	address   string
	svc       Services
	providers []providers.Kind
	logger    logging.Logger
	jwtSecret []byte
}

// NewGRPCServer builds the API server. enabled lists the provider kinds
// requests may name.
func NewGRPCServer(a string, l logging.Logger, svc Services, enabled []providers.Kind, secretKey string) *GRPCServer {
	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		svc:       svc,
		providers: enabled,
		jwtSecret: []byte(secretKey),
	}
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.accessTokenInterceptor),
		grpc.ChainStreamInterceptor(s.streamAccessTokenInterceptor),
	)
	srv.RegisterService(&engineServiceDesc, s)

	hs := health.NewServer()
	hs.SetServingStatus(api.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(lis); err != nil {
		return err
	}

	return nil
}
