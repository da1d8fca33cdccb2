package grpc

import (
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/gophsync/internal/api"
	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/uploads"
	"google.golang.org/grpc"
)

var errUploadStopped = errors.New("upload stopped reading")

type uploadResult struct {
	sum *models.FileSummary
	err error
}

// UploadFile reads a header message followed by data chunks and answers
// with the stored file once the provider confirmed it. Every stream call
// happens on the handler goroutine; the upload itself reads the chunks
// through a pipe on its own goroutine, which has exited before the handler
// returns.
func (s *GRPCServer) UploadFile(stream grpc.ServerStream) error {
	ctx := stream.Context()

	var head api.UploadChunk
	if err := stream.RecvMsg(&head); err != nil {
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("%w: upload header missing", common.ErrInvalidArgument)
		}
		return s.toStatus(ctx, api.MethodUploadFile, err)
	}
	kind, err := s.kind(head.Provider)
	if err != nil {
		return s.toStatus(ctx, api.MethodUploadFile, err)
	}

	pr, pw := io.Pipe()
	done := make(chan uploadResult, 1)
	go func() {
		sum, err := s.svc.Uploads.Upload(ctx, uploads.Request{
			UserID:    userIDFrom(ctx),
			GalleryID: head.GalleryID,
			Provider:  kind,
			Body:      pr,
			Name:      head.Name,
			MimeType:  head.MimeType,
		})
		// fails the pending write below when the upload stopped early
		pr.CloseWithError(errUploadStopped)
		done <- uploadResult{sum, err}
	}()

	pw.CloseWithError(receiveChunks(stream, pw, head.Data))
	res := <-done
	if res.err != nil {
		return s.toStatus(ctx, api.MethodUploadFile, res.err)
	}
	s.logger.Info(ctx, "file uploaded", "user_id", userIDFrom(ctx), "provider", kind, "file_id", res.sum.ID, "size", res.sum.Size)
	out := toFile(*res.sum)
	return stream.SendMsg(&out)
}

// receiveChunks copies the chunk stream into w until the client closes its
// side. A nil result closes the pipe with io.EOF.
func receiveChunks(stream grpc.ServerStream, w io.Writer, first []byte) error {
	if len(first) > 0 {
		if _, err := w.Write(first); err != nil {
			return err
		}
	}
	for {
		var c api.UploadChunk
		err := stream.RecvMsg(&c)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := w.Write(c.Data); err != nil {
			return err
		}
	}
}
