package codec

import (
	"testing"
)

type benchStage struct {
	Stage    string   `json:"stage"`
	Artifact string   `json:"artifact"`
	Rows     int64    `json:"rows"`
	Done     bool     `json:"done"`
	Outputs  []string `json:"outputs,omitempty"`
}

type benchManifest struct {
	Dataset string            `json:"dataset"`
	Column  string            `json:"column"`
	Version uint64            `json:"version"`
	Metric  string            `json:"metric"`
	Params  map[string]string `json:"params"`
	Stages  []benchStage      `json:"stages"`
	Payload []byte            `json:"payload"`
}

func benchmarkCodecMarshal(b *testing.B, c Codec, v any) {
	b.Helper()
	b.ReportAllocs()

	warm, err := c.Marshal(v)
	if err != nil {
		b.Fatal(err)
	}
	b.SetBytes(int64(len(warm)))

	var sink []byte
	b.ResetTimer()
	for b.Loop() {
		out, err := c.Marshal(v)
		if err != nil {
			b.Fatal(err)
		}
		sink = out
	}
	_ = sink
}

func benchmarkCodecUnmarshal[T any](b *testing.B, c Codec, data []byte, dst *T) {
	b.Helper()
	b.ReportAllocs()
	b.SetBytes(int64(len(data)))

	var v T
	b.ResetTimer()
	for b.Loop() {
		if err := c.Unmarshal(data, &v); err != nil {
			b.Fatal(err)
		}
	}
	if dst != nil {
		*dst = v
	}
}

func benchManifestFixture() benchManifest {
	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i * 31)
	}
	return benchManifest{
		Dataset: "s3://corpus/embeddings",
		Column:  "vector",
		Version: 17,
		Metric:  "l2",
		Params: map[string]string{
			"num_partitions":  "256",
			"num_subvectors":  "16",
			"sample_rate":     "256",
			"compression":     "zstd",
			"dataset_version": "17",
		},
		Stages: []benchStage{
			{Stage: "train-ivf", Artifact: "models/ivf.bin", Rows: 65536, Done: true},
			{Stage: "train-pq", Artifact: "models/pq.bin", Rows: 65536, Done: true},
			{Stage: "transform", Artifact: "tmp/unsorted_0.qvf", Rows: 1048576, Done: true,
				Outputs: []string{"tmp/unsorted_0.qvf", "tmp/unsorted_1.qvf"}},
			{Stage: "shuffle", Artifact: "tmp/sorted", Rows: 1048576, Done: false},
		},
		Payload: payload,
	}
}

func BenchmarkCodec_Marshal_Manifest(b *testing.B) {
	m := benchManifestFixture()

	b.Run("stdlib", func(b *testing.B) { benchmarkCodecMarshal(b, JSON{}, m) })
	b.Run("go-json", func(b *testing.B) { benchmarkCodecMarshal(b, GoJSON{}, m) })
}

func BenchmarkCodec_Unmarshal_Manifest(b *testing.B) {
	data := MustMarshal(JSON{}, benchManifestFixture())

	b.Run("stdlib", func(b *testing.B) {
		var sink benchManifest
		benchmarkCodecUnmarshal(b, JSON{}, data, &sink)
		_ = sink
	})
	b.Run("go-json", func(b *testing.B) {
		var sink benchManifest
		benchmarkCodecUnmarshal(b, GoJSON{}, data, &sink)
		_ = sink
	})
}
