package analysis

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

// ReadWindows streams a CSV file and hands rows to fn in windows of at most
// windowSize. The next window is not read until fn returns, so memory stays
// bounded by one window regardless of file size. Rows get sequence ids
// "r0".."rN" in file order; the ids are positional, not content.
//
// A file without a header row, or with a record whose field count does not
// match the header, aborts ingestion with an error. fn's error also aborts.
func ReadWindows(path string, windowSize int, fn func(window []Row) error) error {
	if windowSize < 1 {
		return fmt.Errorf("window size %d is invalid", windowSize)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(bufio.NewReader(f))
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("csv file has no header row")
		}
		return fmt.Errorf("read csv header: %w", err)
	}

	window := make([]Row, 0, windowSize)
	index := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read csv record %d: %w", index, err)
		}

		fields := make(map[string]string, len(header))
		for i, name := range header {
			fields[name] = record[i]
		}
		window = append(window, Row{
			ID:     "r" + strconv.Itoa(index),
			Fields: fields,
		})
		index++

		if len(window) == windowSize {
			if err := fn(window); err != nil {
				return err
			}
			window = window[:0]
		}
	}

	if len(window) > 0 {
		if err := fn(window); err != nil {
			return err
		}
	}
	return nil
}

// CountRows counts the data rows of a CSV file without retaining them. It
// parses with the same strictness as ReadWindows so a file that counts
// cleanly also ingests cleanly.
func CountRows(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(bufio.NewReader(f))
	reader.ReuseRecord = true
	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, errors.New("csv file has no header row")
		}
		return 0, fmt.Errorf("read csv header: %w", err)
	}

	count := 0
	for {
		if _, err := reader.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return 0, fmt.Errorf("read csv record %d: %w", count, err)
		}
		count++
	}
}
