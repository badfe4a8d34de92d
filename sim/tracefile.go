package sim

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// TraceFile is a memory-mapped journal of applied steps. Records are
// fixed-size, so a crashed or interrupted run replays up to its last
// synced step. Re-executed steps after a rewind are appended again, in
// application order.
type TraceFile struct {
	file *os.File
	mmapData []byte
	fileSize int64
	frameCount int
	totalSteps int
	recordCount int
	recordSize int
	mutex sync.RWMutex
}

// Trace file header layout:
// [0-1]: Magic number (0xF1F5)
// [2]: Format version
// [3]: Frame count
// [4-7]: Record count
// [8-11]: Total steps in the scenario
// [12-15]: Reserved
//
// Record layout (28 bytes + 4 per frame):
// [0-3]: Step index
// [4-7]: Page number
// [8-11]: Flags (bit 0 = hit, bit 1 = replaced)
// [12-15]: Replaced frame index (-1 when none)
// [16-19]: Replaced page (-1 when none)
// [20-23]: Fault count
// [24-27]: Fault rate in hundredths of a percent
// [28+]: Frame state, one int32 per frame

const (
	TraceFileMagic = 0xF1F5
	TraceFileVersion = 1
	TraceFileHeaderSize = 16
	traceRecordBaseSize = 28

	// Initial file size: room for a few thousand records
	InitialTraceFileSize = 64 * 1024
	// Grow by 64KB when we run out of space
	TraceFileGrowSize = 64 * 1024

	recordFlagHit = 1 << 0
	recordFlagReplaced = 1 << 1
)

// CreateTraceFile creates a fresh journal for a scenario. An existing file
// at the path is truncated.
func CreateTraceFile(path string, frameCount, totalSteps int) (*TraceFile, error) {
	if frameCount < 1 || frameCount > 255 {
		return nil, NewSimError(ErrCodeInvalidArgument, "CreateTraceFile",
			fmt.Sprintf("frame count %d outside [1, 255]", frameCount), nil)
	}
	if totalSteps < 1 {
		return nil, NewSimError(ErrCodeInvalidArgument, "CreateTraceFile",
			"total steps must be positive", nil)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return nil, NewSimError(ErrCodeTraceWriteFailed, "CreateTraceFile", "journal create failed", err)
	}

	if err := file.Truncate(InitialTraceFileSize); err != nil {
		file.Close()
		return nil, NewSimError(ErrCodeTraceWriteFailed, "CreateTraceFile", "journal grow failed", err)
	}

	tf := &TraceFile{
		file: file,
		fileSize: InitialTraceFileSize,
		frameCount: frameCount,
		totalSteps: totalSteps,
		recordSize: traceRecordBaseSize + 4*frameCount,
	}

	if err := tf.createMapping(); err != nil {
		file.Close()
		return nil, err
	}

	tf.writeHeader()
	return tf, nil
}

// OpenTraceFile maps an existing journal for reading
func OpenTraceFile(path string) (*TraceFile, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, NewSimError(ErrCodeTraceReadFailed, "OpenTraceFile", "journal open failed", err)
	}

	fileInfo, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, NewSimError(ErrCodeTraceReadFailed, "OpenTraceFile", "journal stat failed", err)
	}

	if fileInfo.Size() < TraceFileHeaderSize {
		file.Close()
		return nil, NewSimError(ErrCodeTraceReadFailed, "OpenTraceFile",
			fmt.Sprintf("file too short for journal header: %d bytes", fileInfo.Size()), nil)
	}

	tf := &TraceFile{
		file: file,
		fileSize: fileInfo.Size(),
	}

	if err := tf.createMapping(); err != nil {
		file.Close()
		return nil, err
	}

	if err := tf.readHeader(); err != nil {
		tf.unmap()
		file.Close()
		return nil, err
	}

	return tf, nil
}

// createMapping creates or recreates the memory mapping
func (tf *TraceFile) createMapping() error {
	data, err := unix.Mmap(int(tf.file.Fd()), 0, int(tf.fileSize),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return NewSimError(ErrCodeTraceReadFailed, "createMapping", "mmap failed", err)
	}
	tf.mmapData = data
	return nil
}

func (tf *TraceFile) unmap() error {
	if tf.mmapData == nil {
		return nil
	}
	err := unix.Munmap(tf.mmapData)
	tf.mmapData = nil
	return err
}

// writeHeader serializes the header into the mapped region
func (tf *TraceFile) writeHeader() {
	binary.LittleEndian.PutUint16(tf.mmapData[0:2], TraceFileMagic)
	tf.mmapData[2] = TraceFileVersion
	tf.mmapData[3] = uint8(tf.frameCount)
	binary.LittleEndian.PutUint32(tf.mmapData[4:8], uint32(tf.recordCount))
	binary.LittleEndian.PutUint32(tf.mmapData[8:12], uint32(tf.totalSteps))
	binary.LittleEndian.PutUint32(tf.mmapData[12:16], 0)
}

// readHeader parses and validates the mapped header
func (tf *TraceFile) readHeader() error {
	magic := binary.LittleEndian.Uint16(tf.mmapData[0:2])
	if magic != TraceFileMagic {
		return NewSimError(ErrCodeTraceReadFailed, "readHeader",
			fmt.Sprintf("invalid magic number: got %04x, expected %04x", magic, TraceFileMagic), nil)
	}

	if tf.mmapData[2] != TraceFileVersion {
		return NewSimError(ErrCodeTraceReadFailed, "readHeader",
			fmt.Sprintf("unsupported journal version: %d", tf.mmapData[2]), nil)
	}

	tf.frameCount = int(tf.mmapData[3])
	if tf.frameCount < 1 {
		return NewSimError(ErrCodeTraceReadFailed, "readHeader", "header frame count is zero", nil)
	}
	tf.recordSize = traceRecordBaseSize + 4*tf.frameCount
	tf.recordCount = int(binary.LittleEndian.Uint32(tf.mmapData[4:8]))
	tf.totalSteps = int(binary.LittleEndian.Uint32(tf.mmapData[8:12]))

	maxRecords := int(tf.fileSize-TraceFileHeaderSize) / tf.recordSize
	if tf.recordCount > maxRecords {
		return NewSimError(ErrCodeTraceReadFailed, "readHeader",
			fmt.Sprintf("header claims %d records, file holds at most %d", tf.recordCount, maxRecords), nil)
	}

	return nil
}

// AppendRecord journals one applied step
func (tf *TraceFile) AppendRecord(result StepResult) error {
	tf.mutex.Lock()
	defer tf.mutex.Unlock()

	if tf.mmapData == nil {
		return NewSimError(ErrCodeTraceClosed, "AppendRecord", "journal is closed", nil)
	}
	if len(result.FrameState) != tf.frameCount {
		return NewSimError(ErrCodeInvalidArgument, "AppendRecord",
			fmt.Sprintf("record has %d frames, journal expects %d", len(result.FrameState), tf.frameCount), nil)
	}

	offset := int64(TraceFileHeaderSize + tf.recordCount*tf.recordSize)
	if offset+int64(tf.recordSize) > tf.fileSize {
		if err := tf.growFile(); err != nil {
			return err
		}
	}

	tf.serializeRecord(tf.mmapData[offset:offset+int64(tf.recordSize)], result)
	tf.recordCount++
	binary.LittleEndian.PutUint32(tf.mmapData[4:8], uint32(tf.recordCount))

	return nil
}

// AppendResults journals a batch of applied steps in order
func (tf *TraceFile) AppendResults(results []StepResult) error {
	for _, result := range results {
		if err := tf.AppendRecord(result); err != nil {
			return err
		}
	}
	return nil
}

// growFile expands the file and recreates the mapping. Caller holds the
// write lock.
func (tf *TraceFile) growFile() error {
	if err := tf.unmap(); err != nil {
		return NewSimError(ErrCodeTraceWriteFailed, "growFile", "unmap failed", err)
	}

	newSize := tf.fileSize + TraceFileGrowSize
	if err := tf.file.Truncate(newSize); err != nil {
		// Try to recreate the old mapping
		tf.createMapping()
		return NewSimError(ErrCodeTraceWriteFailed, "growFile", "journal grow failed", err)
	}
	tf.fileSize = newSize

	return tf.createMapping()
}

// serializeRecord writes one record into the mapped region
func (tf *TraceFile) serializeRecord(buf []byte, r StepResult) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.StepIndex))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.PageNumber))

	var flags uint32
	if r.IsHit {
		flags |= recordFlagHit
	}
	if r.Replaced() {
		flags |= recordFlagReplaced
	}
	binary.LittleEndian.PutUint32(buf[8:12], flags)

	binary.LittleEndian.PutUint32(buf[12:16], uint32(int32(r.ReplacedFrameIndex)))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(int32(r.ReplacedPage)))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(r.FaultCount))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(math.Round(r.FaultRate*100)))

	for i, page := range r.FrameState {
		binary.LittleEndian.PutUint32(buf[28+4*i:32+4*i], uint32(int32(page)))
	}
}

// deserializeRecord reads one record from the mapped region
func (tf *TraceFile) deserializeRecord(buf []byte) StepResult {
	flags := binary.LittleEndian.Uint32(buf[8:12])

	frames := make([]int, tf.frameCount)
	for i := range frames {
		frames[i] = int(int32(binary.LittleEndian.Uint32(buf[28+4*i : 32+4*i])))
	}

	return StepResult{
		StepIndex: int(binary.LittleEndian.Uint32(buf[0:4])),
		PageNumber: int(binary.LittleEndian.Uint32(buf[4:8])),
		IsHit: flags&recordFlagHit != 0,
		ReplacedFrameIndex: int(int32(binary.LittleEndian.Uint32(buf[12:16]))),
		ReplacedPage: int(int32(binary.LittleEndian.Uint32(buf[16:20]))),
		FrameState: frames,
		FaultCount: int(binary.LittleEndian.Uint32(buf[20:24])),
		FaultRate: float64(binary.LittleEndian.Uint32(buf[24:28])) / 100,
	}
}

// ReadRecord reads the journaled record at the given position
func (tf *TraceFile) ReadRecord(index int) (StepResult, error) {
	tf.mutex.RLock()
	defer tf.mutex.RUnlock()

	if tf.mmapData == nil {
		return StepResult{}, NewSimError(ErrCodeTraceClosed, "ReadRecord", "journal is closed", nil)
	}
	if index < 0 || index >= tf.recordCount {
		return StepResult{}, NewSimError(ErrCodeOutOfRange, "ReadRecord",
			fmt.Sprintf("record index %d outside [0, %d)", index, tf.recordCount), nil)
	}

	offset := TraceFileHeaderSize + index*tf.recordSize
	return tf.deserializeRecord(tf.mmapData[offset : offset+tf.recordSize]), nil
}

// ReadAll returns every journaled record in application order
func (tf *TraceFile) ReadAll() ([]StepResult, error) {
	tf.mutex.RLock()
	defer tf.mutex.RUnlock()

	if tf.mmapData == nil {
		return nil, NewSimError(ErrCodeTraceClosed, "ReadAll", "journal is closed", nil)
	}

	results := make([]StepResult, 0, tf.recordCount)
	for i := 0; i < tf.recordCount; i++ {
		offset := TraceFileHeaderSize + i*tf.recordSize
		results = append(results, tf.deserializeRecord(tf.mmapData[offset:offset+tf.recordSize]))
	}
	return results, nil
}

// RecordCount returns the number of journaled records
func (tf *TraceFile) RecordCount() int {
	tf.mutex.RLock()
	defer tf.mutex.RUnlock()
	return tf.recordCount
}

// FrameCount returns the scenario's frame count
func (tf *TraceFile) FrameCount() int {
	tf.mutex.RLock()
	defer tf.mutex.RUnlock()
	return tf.frameCount
}

// TotalSteps returns the scenario's reference string length
func (tf *TraceFile) TotalSteps() int {
	tf.mutex.RLock()
	defer tf.mutex.RUnlock()
	return tf.totalSteps
}

// Sync flushes the mapped region to disk
func (tf *TraceFile) Sync() error {
	tf.mutex.RLock()
	defer tf.mutex.RUnlock()

	if tf.mmapData == nil {
		return nil
	}

	if err := unix.Msync(tf.mmapData, unix.MS_SYNC); err != nil {
		return NewSimError(ErrCodeTraceWriteFailed, "Sync", "msync failed", err)
	}
	return tf.file.Sync()
}

// Close flushes, unmaps and closes the journal
func (tf *TraceFile) Close() error {
	tf.Sync()

	tf.mutex.Lock()
	defer tf.mutex.Unlock()

	if err := tf.unmap(); err != nil {
		return NewSimError(ErrCodeTraceWriteFailed, "Close", "unmap failed", err)
	}

	if tf.file != nil {
		return tf.file.Close()
	}
	return nil
}

// TraceFileStats describes the journal's storage usage
type TraceFileStats struct {
	FileSize int64
	MappedSize int64
	RecordCount int
	UsedBytes int64
}

func (tf *TraceFile) GetStats() TraceFileStats {
	tf.mutex.RLock()
	defer tf.mutex.RUnlock()

	return TraceFileStats{
		FileSize: tf.fileSize,
		MappedSize: int64(len(tf.mmapData)),
		RecordCount: tf.recordCount,
		UsedBytes: int64(TraceFileHeaderSize + tf.recordCount*tf.recordSize),
	}
}
