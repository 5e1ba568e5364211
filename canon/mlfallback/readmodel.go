package mlfallback

import (
	"bytes"
	"io"
	"os"

	"github.com/golang/protobuf/proto"
	"github.com/google/renameio"

	"go.rpmhub.dev/build/canon/mlfallback/pb"
)

// readTrainedModel loads a textproto-encoded TrainedModel from path. It
// mirrors distri's pb.ReadBuildFile: read the whole file, then
// proto.UnmarshalText into the message.
func readTrainedModel(path string) (*pb.TrainedModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, f); err != nil {
		return nil, err
	}
	var m pb.TrainedModel
	if err := proto.UnmarshalText(buf.String(), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// writeTrainedModel atomically writes m as textproto to path.
func writeTrainedModel(path string, m *pb.TrainedModel) error {
	return renameio.WriteFile(path, []byte(proto.MarshalTextString(m)), 0644)
}

// readPredictionCache loads the prediction cache at path. A missing or
// corrupt file is treated as an empty cache, never an error: the cache is
// purely an optimization and losing it costs recomputation, not
// correctness.
func readPredictionCache(path string) *pb.PredictionCache {
	f, err := os.Open(path)
	if err != nil {
		return &pb.PredictionCache{}
	}
	defer f.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, f); err != nil {
		return &pb.PredictionCache{}
	}
	var c pb.PredictionCache
	if err := proto.UnmarshalText(buf.String(), &c); err != nil {
		return &pb.PredictionCache{}
	}
	return &c
}

func writePredictionCache(path string, c *pb.PredictionCache) error {
	return renameio.WriteFile(path, []byte(proto.MarshalTextString(c)), 0644)
}
