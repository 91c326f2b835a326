// Package importer loads grades from CSV files into the gradebook in
// atomic batches, reporting progress to registered listeners.
package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"gradebook/internal/gradebook"
	"gradebook/internal/model"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

type Progress struct {
	FileName     string    `json:"fileName"`
	TotalRecords int       `json:"totalRecords"`
	Processed    int       `json:"processed"`
	Stored       int       `json:"stored"`
	Rejected     int       `json:"rejected"`
	Status       Status    `json:"status"`
	Error        string    `json:"error,omitempty"`
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime,omitempty"`
}

type Option func(*Importer)

// WithBatchSize caps the grades per commit. It never exceeds the client's
// batch limit.
func WithBatchSize(n int) Option {
	return func(s *Importer) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithWorkers fixes the worker count instead of deriving it from the file size.
func WithWorkers(n int) Option {
	return func(s *Importer) {
		if n > 0 {
			s.workers = n
		}
	}
}

type Importer struct {
	repo      *gradebook.Repository
	batchSize int
	workers   int

	fileProgressMap  map[string]*Progress
	fileProgressLock sync.RWMutex

	progressListeners map[chan Progress]bool
	listenerLock      sync.RWMutex
}

func New(repo *gradebook.Repository, opts ...Option) *Importer {
	s := &Importer{
		repo:              repo,
		batchSize:         repo.Client().MaxBatchWrites(),
		fileProgressMap:   make(map[string]*Progress),
		progressListeners: make(map[chan Progress]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if limit := repo.Client().MaxBatchWrites(); s.batchSize > limit {
		s.batchSize = limit
	}
	return s
}

func (s *Importer) RegisterProgressListener(ch chan Progress) {
	s.listenerLock.Lock()
	defer s.listenerLock.Unlock()
	s.progressListeners[ch] = true
}

func (s *Importer) UnregisterProgressListener(ch chan Progress) {
	s.listenerLock.Lock()
	defer s.listenerLock.Unlock()
	delete(s.progressListeners, ch)
}

// broadcast sends p to every listener that is ready; busy listeners miss it.
func (s *Importer) broadcast(p Progress) {
	s.listenerLock.RLock()
	defer s.listenerLock.RUnlock()

	for listener := range s.progressListeners {
		select {
		case listener <- p:
		default:
		}
	}
}

func (s *Importer) Progress(fileName string) (Progress, bool) {
	s.fileProgressLock.RLock()
	defer s.fileProgressLock.RUnlock()

	p, ok := s.fileProgressMap[fileName]
	if !ok {
		return Progress{}, false
	}
	return *p, true
}

func (s *Importer) update(fileName string, fn func(p *Progress)) Progress {
	s.fileProgressLock.Lock()
	defer s.fileProgressLock.Unlock()

	p := s.fileProgressMap[fileName]
	fn(p)
	if p.Processed > p.TotalRecords {
		p.TotalRecords = p.Processed
	}
	snapshot := *p
	s.broadcast(snapshot)
	return snapshot
}

func (s *Importer) fail(fileName string, err error) (Progress, error) {
	p := s.update(fileName, func(p *Progress) {
		p.Status = StatusError
		p.Error = err.Error()
		p.EndTime = time.Now()
	})
	return p, err
}

// ImportFile reads a CSV of grades with a header row naming at least the
// studentId, assignmentId and score columns. Rows that fail validation or
// repeat a student/assignment pair are counted as rejected; a failed commit
// stops the import.
func (s *Importer) ImportFile(ctx context.Context, path string) (Progress, error) {
	fileName := filepath.Base(path)
	startTime := time.Now()

	s.fileProgressLock.Lock()
	s.fileProgressMap[fileName] = &Progress{FileName: fileName, Status: StatusProcessing, StartTime: startTime}
	s.fileProgressLock.Unlock()

	fileInfo, err := os.Stat(path)
	if err != nil {
		return s.fail(fileName, fmt.Errorf("failed to get file info: %w", err))
	}
	totalRecords, err := countRecords(path)
	if err != nil {
		return s.fail(fileName, fmt.Errorf("failed to count records: %w", err))
	}
	s.update(fileName, func(p *Progress) { p.TotalRecords = totalRecords })

	file, err := os.Open(path)
	if err != nil {
		return s.fail(fileName, fmt.Errorf("failed to open file: %w", err))
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return s.fail(fileName, fmt.Errorf("failed to read header: %w", err))
	}
	cols, err := columns(header)
	if err != nil {
		return s.fail(fileName, err)
	}

	numWorkers := s.workers
	if numWorkers == 0 {
		numWorkers = calculateWorkers(fileInfo.Size())
	}
	glog.Infof("[import]%s: %d records, %d workers, batches of %d\n", fileName, totalRecords, numWorkers, s.batchSize)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	rowCh := make(chan []string, numWorkers*100)
	var wg sync.WaitGroup
	var seen sync.Map
	var firstErr error
	var errOnce sync.Once
	abort := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(runCtx, fileName, cols, rowCh, &seen, abort)
		}()
	}

	// the reader is joined with the workers so no update lands after the result
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(rowCh)
		for runCtx.Err() == nil {
			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				glog.Warningf("[import]%s: unreadable record = %s\n", fileName, err)
				s.update(fileName, func(p *Progress) { p.Processed++; p.Rejected++ })
				continue
			}
			select {
			case rowCh <- record:
			case <-runCtx.Done():
				return
			}
		}
	}()

	wg.Wait()

	if firstErr != nil {
		return s.fail(fileName, firstErr)
	}
	if err := ctx.Err(); err != nil {
		return s.fail(fileName, err)
	}
	p := s.update(fileName, func(p *Progress) {
		p.Status = StatusCompleted
		p.EndTime = time.Now()
	})
	glog.Infof("[import]%s: stored %d, rejected %d in %v\n", fileName, p.Stored, p.Rejected, time.Since(startTime))
	return p, nil
}

func (s *Importer) worker(ctx context.Context, fileName string, cols map[string]int, rowCh <-chan []string, seen *sync.Map, abort func(error)) {
	var grades []model.Grade
	flush := func() bool {
		if len(grades) == 0 {
			return true
		}
		if _, err := s.repo.RecordGrades(ctx, grades); err != nil {
			abort(fmt.Errorf("failed to store %d grades: %w", len(grades), err))
			return false
		}
		n := len(grades)
		s.update(fileName, func(p *Progress) { p.Processed += n; p.Stored += n })
		grades = nil
		return true
	}

	for record := range rowCh {
		if ctx.Err() != nil {
			return
		}
		g, err := parseRecord(cols, record)
		if err == nil {
			err = g.Validate()
		}
		if err == nil {
			if _, dup := seen.LoadOrStore(g.StudentID+"\x00"+g.AssignmentID, true); dup {
				err = fmt.Errorf("duplicate grade for %s/%s", g.StudentID, g.AssignmentID)
			}
		}
		if err != nil {
			glog.V(1).Infof("[import]%s: rejected record = %s\n", fileName, err)
			s.update(fileName, func(p *Progress) { p.Processed++; p.Rejected++ })
			continue
		}

		grades = append(grades, g)
		if len(grades) >= s.batchSize && !flush() {
			return
		}
	}
	flush()
}

// calculateWorkers picks a worker count from the file size.
func calculateWorkers(fileSize int64) int {
	cpus := runtime.NumCPU()

	switch {
	case fileSize < 1_000_000:
		return min(2, cpus)
	case fileSize < 10_000_000:
		return min(4, cpus)
	case fileSize < 100_000_000:
		return min(8, cpus)
	}
	return min(16, cpus)
}

func countRecords(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return 0, nil
		}
		return 0, err
	}

	count := 0
	for {
		_, err := reader.Read()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, err
		}
		count++
	}
}

var requiredColumns = []string{model.FieldStudentID, model.FieldAssignmentID, model.FieldScore}

func columns(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("header is missing the %s column", name)
		}
	}
	return cols, nil
}

func parseRecord(cols map[string]int, record []string) (model.Grade, error) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	score, err := strconv.ParseFloat(field(model.FieldScore), 64)
	if err != nil {
		return model.Grade{}, fmt.Errorf("score %q is not a number", field(model.FieldScore))
	}
	g := model.Grade{
		StudentID:    field(model.FieldStudentID),
		AssignmentID: field(model.FieldAssignmentID),
		Score:        score,
		Feedback:     field(model.FieldFeedback),
	}
	if s := field(model.FieldSubmittedDate); s != "" {
		if g.SubmittedDate, err = model.ParseTime(s); err != nil {
			return model.Grade{}, fmt.Errorf("submittedDate %q is not a timestamp", s)
		}
	}
	return g, nil
}
