package grpc

import (
	"context"
	"path"

	"github.com/dmitrijs2005/gophsync/internal/api"
	"google.golang.org/grpc"
)

// EngineServer is the service contract behind engineServiceDesc.
type EngineServer interface {
	ListConnections(ctx context.Context, req *api.Empty) (*api.ListConnectionsResponse, error)
	RegisterConnection(ctx context.Context, req *api.RegisterConnectionRequest) (*api.Connection, error)
	EnsureGalleryFolder(ctx context.Context, req *api.EnsureGalleryFolderRequest) (*api.EnsureGalleryFolderResponse, error)
	UploadFile(stream grpc.ServerStream) error
	ListGalleryFiles(ctx context.Context, req *api.ListGalleryFilesRequest) (*api.ListGalleryFilesResponse, error)
	UpdateFile(ctx context.Context, req *api.UpdateFileRequest) (*api.File, error)
	DeleteFile(ctx context.Context, req *api.FileRequest) (*api.Empty, error)
	RestoreFile(ctx context.Context, req *api.FileRequest) (*api.File, error)
	GetFileLink(ctx context.Context, req *api.FileRequest) (*api.FileLinkResponse, error)
	ResolveFileLink(ctx context.Context, req *api.ResolveFileLinkRequest) (*api.ResolveFileLinkResponse, error)
	RateLimitSnapshot(ctx context.Context, req *api.Empty) (*api.RateLimitSnapshotResponse, error)
	ListConflicts(ctx context.Context, req *api.ListConflictsRequest) (*api.ListConflictsResponse, error)
	ResolveConflict(ctx context.Context, req *api.ResolveConflictRequest) (*api.Empty, error)
	TriggerSync(ctx context.Context, req *api.TriggerSyncRequest) (*api.SyncResult, error)
}

// unary builds the descriptor of a unary method the way generated code does.
func unary[Req, Resp any](method string, call func(EngineServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: path.Base(method),
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(EngineServer), ctx, req.(*Req))
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: method}, handler)
		},
	}
}

var engineServiceDesc = grpc.ServiceDesc{
	ServiceName: api.ServiceName,
	HandlerType: (*EngineServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(api.MethodListConnections, EngineServer.ListConnections),
		unary(api.MethodRegisterConnection, EngineServer.RegisterConnection),
		unary(api.MethodEnsureGalleryFolder, EngineServer.EnsureGalleryFolder),
		unary(api.MethodListGalleryFiles, EngineServer.ListGalleryFiles),
		unary(api.MethodUpdateFile, EngineServer.UpdateFile),
		unary(api.MethodDeleteFile, EngineServer.DeleteFile),
		unary(api.MethodRestoreFile, EngineServer.RestoreFile),
		unary(api.MethodGetFileLink, EngineServer.GetFileLink),
		unary(api.MethodResolveFileLink, EngineServer.ResolveFileLink),
		unary(api.MethodRateLimitSnapshot, EngineServer.RateLimitSnapshot),
		unary(api.MethodListConflicts, EngineServer.ListConflicts),
		unary(api.MethodResolveConflict, EngineServer.ResolveConflict),
		unary(api.MethodTriggerSync, EngineServer.TriggerSync),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: api.UploadFileStream.StreamName,
			Handler: func(srv any, stream grpc.ServerStream) error {
				return srv.(EngineServer).UploadFile(stream)
			},
			ClientStreams: true,
		},
	},
	Metadata: "gophsync/v1/engine",
}
