package spool

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/littlebro/lb3/internal/logctx"
)

// RecoveryReport summarizes a sweep: how many segments were repaired and
// how many NDJSON lines were salvaged out of partial segments.
type RecoveryReport struct {
	Recovered     int
	SalvagedLines int
	Unrecognized  int
}

func (r RecoveryReport) String() string {
	return fmt.Sprintf("recovered=%d, salvaged_lines=%d", r.Recovered, r.SalvagedLines)
}

// Recover walks <dir>/<monitor>/ for every monitor subdirectory under dir
// and repairs anything left mid-write by a prior crash (spec §4.10):
//   - a closed-but-unrenamed .part (valid gzip trailer) is renamed to its
//     canonical final name;
//   - a truncated .part (no valid gzip trailer) is salvaged: complete
//     lines are rewritten into a freshly finalized segment, a trailing
//     incomplete line is discarded, and the partial file is removed;
//   - anything else is left untouched and counted as unrecognized.
//
// Recover is idempotent: running it twice produces the same state and an
// empty second report.
func Recover(dir string) (RecoveryReport, error) {
	log := logctx.For("spool")
	var report RecoveryReport

	monitorDirs, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return report, nil
		}
		return report, fmt.Errorf("spool: recovery: read spool dir: %w", err)
	}

	for _, md := range monitorDirs {
		if !md.IsDir() {
			continue
		}
		monitorDir := filepath.Join(dir, md.Name())
		entries, err := os.ReadDir(monitorDir)
		if err != nil {
			log.Warn("recovery: cannot read monitor dir", "monitor", md.Name(), "err", err)
			continue
		}

		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			name := e.Name()
			path := filepath.Join(monitorDir, name)

			switch {
			case strings.HasSuffix(name, partSuffix):
				n, lines, err := recoverPart(path)
				if err != nil {
					log.Warn("recovery: failed to repair segment", "monitor", md.Name(), "err", err)
					report.Unrecognized++
					continue
				}
				report.Recovered += n
				report.SalvagedLines += lines
			case strings.HasSuffix(name, finalSuffix):
				// Already canonical; nothing to do.
			default:
				report.Unrecognized++
			}
		}
	}

	log.Info("recovery sweep complete", "recovered", report.Recovered, "salvaged_lines", report.SalvagedLines, "unrecognized", report.Unrecognized)
	return report, nil
}

// recoverPart repairs a single .part file, returning (segmentsRecovered,
// linesSalvaged).
func recoverPart(partPath string) (int, int, error) {
	raw, err := os.ReadFile(partPath)
	if err != nil {
		return 0, 0, fmt.Errorf("read %s: %w", partPath, err)
	}

	finalPath := partPath[:len(partPath)-len(partSuffix)] + finalSuffix

	if hasValidGzipTrailer(raw) {
		// Closed but unrenamed: the gzip stream is already complete and
		// every line within it is, by construction, complete too.
		if err := os.Rename(partPath, finalPath); err != nil {
			return 0, 0, fmt.Errorf("rename %s: %w", partPath, err)
		}
		return 1, 0, nil
	}

	lines, err := salvageLines(raw)
	if err != nil {
		return 0, 0, fmt.Errorf("salvage %s: %w", partPath, err)
	}
	if len(lines) == 0 {
		return 1, 0, os.Remove(partPath)
	}

	if err := rewriteFinalized(finalPath, lines); err != nil {
		return 0, 0, fmt.Errorf("rewrite %s: %w", finalPath, err)
	}
	if err := os.Remove(partPath); err != nil {
		return 0, 0, fmt.Errorf("remove partial %s: %w", partPath, err)
	}
	return 1, len(lines), nil
}

// hasValidGzipTrailer reports whether raw decompresses cleanly to EOF,
// meaning the writer's Close() ran (CRC32+size trailer present and
// correct) even though the rename to the final name never happened.
func hasValidGzipTrailer(raw []byte) bool {
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return false
	}
	defer zr.Close()
	if _, err := io.Copy(io.Discard, zr); err != nil {
		return false
	}
	return true
}

// salvageLines decompresses as far as the gzip stream allows and returns
// every complete LF-terminated line, discarding a trailing truncated line
// if the stream ends mid-line.
func salvageLines(raw []byte) ([][]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		// Not even a valid gzip header: nothing salvageable.
		return nil, nil
	}
	defer zr.Close()

	var decoded bytes.Buffer
	buf := make([]byte, 32*1024)
	for {
		n, rerr := zr.Read(buf)
		if n > 0 {
			decoded.Write(buf[:n])
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			// Truncated mid-stream: keep whatever decoded cleanly so far.
			break
		}
	}

	scanner := bufio.NewScanner(bytes.NewReader(decoded.Bytes()))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var lines [][]byte
	endsInNewline := decoded.Len() > 0 && decoded.Bytes()[decoded.Len()-1] == '\n'
	var all [][]byte
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		all = append(all, line)
	}
	if len(all) == 0 {
		return nil, nil
	}
	if endsInNewline {
		lines = all
	} else {
		// The last "line" Scanner produced was actually a truncated
		// trailing fragment with no terminating newline; discard it.
		lines = all[:len(all)-1]
	}
	return lines, nil
}

// rewriteFinalized writes lines into a brand new finalized segment at
// finalPath via the same flush→fsync→close path production writes use.
func rewriteFinalized(finalPath string, lines [][]byte) error {
	tmpPath := finalPath + partSuffix
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(f)
	bw := bufio.NewWriter(gz)
	for _, line := range lines {
		if _, err := bw.Write(line); err != nil {
			f.Close()
			return err
		}
		if _, err := bw.Write([]byte("\n")); err != nil {
			f.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, finalPath)
}
