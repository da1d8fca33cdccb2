// Package grpcclient talks to the engine API over gRPC with the JSON codec.
// Every call carries the access token given at construction and returns the
// engine's sentinel errors.
package grpcclient

import (
	"context"
	"errors"
	"io"

	"github.com/dmitrijs2005/gophsync/internal/api"
	"github.com/dmitrijs2005/gophsync/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
)

// ChunkSize is the payload of one UploadFile message.
const ChunkSize = 256 << 10

type Client struct {
	endpointURL string
	conn        *grpc.ClientConn
	accessToken string
}

func withAccessToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

func (c *Client) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	return invoker(withAccessToken(ctx, c.accessToken), method, req, reply, cc, opts...)
}

func (c *Client) streamAccessTokenInterceptor(
	ctx context.Context,
	desc *grpc.StreamDesc,
	cc *grpc.ClientConn,
	method string,
	streamer grpc.Streamer,
	opts ...grpc.CallOption,
) (grpc.ClientStream, error) {
	return streamer(withAccessToken(ctx, c.accessToken), desc, cc, method, opts...)
}

// New dials endpointURL. Extra options are appended after the defaults, so
// tests can swap the dialer.
func New(endpointURL, accessToken string, opts ...grpc.DialOption) (*Client, error) {
	c := &Client{endpointURL: endpointURL, accessToken: accessToken}

	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(api.CodecName)),
		grpc.WithUnaryInterceptor(c.accessTokenInterceptor),
		grpc.WithStreamInterceptor(c.streamAccessTokenInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(endpointURL, opts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	if err := c.conn.Invoke(ctx, method, req, resp); err != nil {
		return mapError(err)
	}
	return nil
}

// Ping asks the health service whether the engine is serving.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: api.ServiceName},
		grpc.CallContentSubtype("proto"))
	if err != nil {
		return mapError(err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return ErrUnavailable
	}
	return nil
}

func (c *Client) ListConnections(ctx context.Context) ([]api.Connection, error) {
	var out api.ListConnectionsResponse
	if err := c.invoke(ctx, api.MethodListConnections, &api.Empty{}, &out); err != nil {
		return nil, err
	}
	return out.Connections, nil
}

func (c *Client) RegisterConnection(ctx context.Context, req api.RegisterConnectionRequest) (*api.Connection, error) {
	var out api.Connection
	if err := c.invoke(ctx, api.MethodRegisterConnection, &req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) EnsureGalleryFolder(ctx context.Context, galleryID, provider string) (*api.EnsureGalleryFolderResponse, error) {
	var out api.EnsureGalleryFolderResponse
	req := &api.EnsureGalleryFolderRequest{GalleryID: galleryID, Provider: provider}
	if err := c.invoke(ctx, api.MethodEnsureGalleryFolder, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadHeader names the file an upload stores.
type UploadHeader struct {
	GalleryID string
	Provider  string
	Name      string
	MimeType  string
}

// UploadFile streams body in ChunkSize messages after the header and waits
// for the stored file.
func (c *Client) UploadFile(ctx context.Context, h UploadHeader, body io.Reader) (*api.File, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.conn.NewStream(ctx, &api.UploadFileStream, api.MethodUploadFile)
	if err != nil {
		return nil, mapError(err)
	}

	head := &api.UploadChunk{GalleryID: h.GalleryID, Provider: h.Provider, Name: h.Name, MimeType: h.MimeType}
	if err := stream.SendMsg(head); err != nil {
		return nil, c.uploadError(stream, err)
	}

	buf := make([]byte, ChunkSize)
	for {
		n, rerr := io.ReadFull(body, buf)
		if n > 0 {
			if err := stream.SendMsg(&api.UploadChunk{Data: buf[:n]}); err != nil {
				return nil, c.uploadError(stream, err)
			}
		}
		if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
			break
		}
		if rerr != nil {
			return nil, rerr
		}
	}
	if err := stream.CloseSend(); err != nil {
		return nil, mapError(err)
	}

	var out api.File
	if err := stream.RecvMsg(&out); err != nil {
		return nil, mapError(err)
	}
	return &out, nil
}

// uploadError fetches the real status once SendMsg reports io.EOF, which
// means the server already ended the stream.
func (c *Client) uploadError(stream grpc.ClientStream, err error) error {
	if errors.Is(err, io.EOF) {
		var out api.File
		if rerr := stream.RecvMsg(&out); rerr != nil {
			return mapError(rerr)
		}
	}
	return mapError(err)
}

func (c *Client) ListGalleryFiles(ctx context.Context, req api.ListGalleryFilesRequest) ([]api.File, error) {
	var out api.ListGalleryFilesResponse
	if err := c.invoke(ctx, api.MethodListGalleryFiles, &req, &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

func (c *Client) UpdateFile(ctx context.Context, req api.UpdateFileRequest) (*api.File, error) {
	var out api.File
	if err := c.invoke(ctx, api.MethodUpdateFile, &req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	return c.invoke(ctx, api.MethodDeleteFile, &api.FileRequest{FileID: fileID}, &api.Empty{})
}

func (c *Client) RestoreFile(ctx context.Context, fileID string) (*api.File, error) {
	var out api.File
	if err := c.invoke(ctx, api.MethodRestoreFile, &api.FileRequest{FileID: fileID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetFileLink(ctx context.Context, fileID string) (*api.FileLinkResponse, error) {
	var out api.FileLinkResponse
	if err := c.invoke(ctx, api.MethodGetFileLink, &api.FileRequest{FileID: fileID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ResolveFileLink(ctx context.Context, link string) (string, error) {
	var out api.ResolveFileLinkResponse
	if err := c.invoke(ctx, api.MethodResolveFileLink, &api.ResolveFileLinkRequest{Link: link}, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

func (c *Client) RateLimitSnapshot(ctx context.Context) ([]api.Usage, error) {
	var out api.RateLimitSnapshotResponse
	if err := c.invoke(ctx, api.MethodRateLimitSnapshot, &api.Empty{}, &out); err != nil {
		return nil, err
	}
	return out.Providers, nil
}

func (c *Client) ListConflicts(ctx context.Context, status string) ([]api.Conflict, error) {
	var out api.ListConflictsResponse
	if err := c.invoke(ctx, api.MethodListConflicts, &api.ListConflictsRequest{Status: status}, &out); err != nil {
		return nil, err
	}
	return out.Conflicts, nil
}

func (c *Client) ResolveConflict(ctx context.Context, id, resolution string) error {
	req := &api.ResolveConflictRequest{ID: id, Resolution: resolution}
	return c.invoke(ctx, api.MethodResolveConflict, req, &api.Empty{})
}

func (c *Client) TriggerSync(ctx context.Context, provider string) (*api.SyncResult, error) {
	var out api.SyncResult
	if err := c.invoke(ctx, api.MethodTriggerSync, &api.TriggerSyncRequest{Provider: provider}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
