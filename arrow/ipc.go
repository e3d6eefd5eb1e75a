package arrow

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Peer states in a peer table.
const (
	StateActive = "active"
	StatePast   = "past"
)

// PeerRow is one row of a peer table.
type PeerRow struct {
	Address     string
	State       string
	ConnectedAt time.Time
	// DisconnectedAt is zero for active peers.
	DisconnectedAt time.Time
}

// PeerTableSchema returns the Arrow schema of a peer table.
//
// Fields:
//   - address: string - Peer service address
//   - state: string - "active" or "past"
//   - connected_at: timestamp[ms]
//   - disconnected_at: timestamp[ms] (nullable) - null while active
//   - duration_ms: int64 (nullable) - connection lifetime, null while active
func PeerTableSchema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "address", Type: arrow.BinaryTypes.String},
			{Name: "state", Type: arrow.BinaryTypes.String},
			{Name: "connected_at", Type: arrow.FixedWidthTypes.Timestamp_ms},
			{Name: "disconnected_at", Type: arrow.FixedWidthTypes.Timestamp_ms, Nullable: true},
			{Name: "duration_ms", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		},
		nil,
	)
}

// PeerTableCodec converts peer rows to and from Arrow IPC streams.
type PeerTableCodec struct {
	allocator memory.Allocator
}

// NewPeerTableCodec creates a codec using the default allocator.
func NewPeerTableCodec() *PeerTableCodec {
	return &PeerTableCodec{
		allocator: memory.DefaultAllocator,
	}
}

// BuildRecord builds one record batch holding rows. The caller releases it.
func (c *PeerTableCodec) BuildRecord(rows []PeerRow) arrow.Record {
	b := array.NewRecordBuilder(c.allocator, PeerTableSchema())
	defer b.Release()

	addr := b.Field(0).(*array.StringBuilder)
	state := b.Field(1).(*array.StringBuilder)
	connected := b.Field(2).(*array.TimestampBuilder)
	disconnected := b.Field(3).(*array.TimestampBuilder)
	duration := b.Field(4).(*array.Int64Builder)

	for _, r := range rows {
		addr.Append(r.Address)
		state.Append(r.State)
		connected.Append(arrow.Timestamp(r.ConnectedAt.UnixMilli()))

		if r.DisconnectedAt.IsZero() {
			disconnected.AppendNull()
			duration.AppendNull()
			continue
		}
		disconnected.Append(arrow.Timestamp(r.DisconnectedAt.UnixMilli()))
		duration.Append(r.DisconnectedAt.Sub(r.ConnectedAt).Milliseconds())
	}

	return b.NewRecord()
}

// Write streams rows to w in Arrow IPC stream format.
func (c *PeerTableCodec) Write(w io.Writer, rows []PeerRow) error {
	record := c.BuildRecord(rows)
	defer record.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(record.Schema()), ipc.WithAllocator(c.allocator))
	if err := writer.Write(record); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	return nil
}

// Serialize returns rows as Arrow IPC bytes.
func (c *PeerTableCodec) Serialize(rows []PeerRow) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Write(&buf, rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Read decodes every record batch of an IPC stream into rows.
func (c *PeerTableCodec) Read(r io.Reader) ([]PeerRow, error) {
	reader, err := ipc.NewReader(r, ipc.WithSchema(PeerTableSchema()), ipc.WithAllocator(c.allocator))
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer reader.Release()

	var rows []PeerRow
	for reader.Next() {
		rows = append(rows, recordRows(reader.Record())...)
	}
	if err := reader.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// Deserialize decodes Arrow IPC bytes into rows.
func (c *PeerTableCodec) Deserialize(data []byte) ([]PeerRow, error) {
	return c.Read(bytes.NewReader(data))
}

func recordRows(record arrow.Record) []PeerRow {
	addr := record.Column(0).(*array.String)
	state := record.Column(1).(*array.String)
	connected := record.Column(2).(*array.Timestamp)
	disconnected := record.Column(3).(*array.Timestamp)

	rows := make([]PeerRow, 0, record.NumRows())
	for i := 0; i < int(record.NumRows()); i++ {
		row := PeerRow{
			Address:     addr.Value(i),
			State:       state.Value(i),
			ConnectedAt: connected.Value(i).ToTime(arrow.Millisecond),
		}
		if disconnected.IsValid(i) {
			row.DisconnectedAt = disconnected.Value(i).ToTime(arrow.Millisecond)
		}
		rows = append(rows, row)
	}
	return rows
}
