package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cointax/internal/domain"
	"cointax/internal/logger"
	"cointax/internal/util"

	"github.com/shopspring/decimal"
)

// Column names of the unified ledger format. Platform exports are expected to
// be normalized into this format upstream; the reader only validates and
// links.
const (
	colUTCTime   = "utc_time"
	colPlatform  = "platform"
	colKind      = "kind"
	colCoin      = "coin"
	colChange    = "change"
	colFeeCoin   = "fee_coin"
	colFeeChange = "fee_change"
	colID        = "id"
	colLink      = "link"
	colRemark    = "remark"
)

var requiredColumns = []string{colUTCTime, colPlatform, colKind, colCoin, colChange}

// ReadFiles reads and merges multiple ledger files into one chronologically
// sorted operation list. Links are resolved per file.
func ReadFiles(paths []string) ([]*domain.Operation, error) {
	ops := []*domain.Operation{}
	for _, path := range paths {
		fileOps, err := ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read ledger %s: %w", path, err)
		}
		ops = append(ops, fileOps...)
	}
	domain.SortOperations(ops)
	return ops, nil
}

func ReadFile(path string) ([]*domain.Operation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read parses one ledger stream. The first row is the header; column order is
// free. Rows with an unknown operation kind or a negative change abort the
// read, a tax evaluation on partial input would be silently wrong.
func Read(r io.Reader) ([]*domain.Operation, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("could not read header: %w", err)
	}
	columns := map[string]int{}
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("missing required column %q", name)
		}
	}

	field := func(record []string, name string) string {
		i, ok := columns[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	ops := []*domain.Operation{}
	byID := map[string]*domain.Operation{}
	links := map[*domain.Operation]string{}
	platforms := util.NewSet()
	coins := util.NewSet()

	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		op, err := parseRecord(record, field)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ops = append(ops, op)
		platforms.Add(op.Platform)
		coins.Add(op.Coin)

		if id := field(record, colID); id != "" {
			if _, exists := byID[id]; exists {
				return nil, fmt.Errorf("line %d: duplicate operation id %q", line, id)
			}
			byID[id] = op
		}
		if linkID := field(record, colLink); linkID != "" {
			links[op] = linkID
		}
	}

	for op, linkID := range links {
		target, ok := byID[linkID]
		if !ok {
			return nil, fmt.Errorf("operation links to unknown id %q", linkID)
		}
		if target == op {
			return nil, fmt.Errorf("operation %q links to itself", linkID)
		}
		op.Link = target
	}

	domain.SortOperations(ops)
	logger.L.Info("read ledger", "operations", len(ops),
		"platforms", platforms.List(), "coins", coins.List())
	return ops, nil
}

func parseRecord(record []string, field func([]string, string) string) (*domain.Operation, error) {
	utcTime, err := parseTime(field(record, colUTCTime))
	if err != nil {
		return nil, err
	}

	kind, err := domain.ParseOpType(field(record, colKind))
	if err != nil {
		return nil, err
	}

	change, err := decimal.NewFromString(field(record, colChange))
	if err != nil {
		return nil, fmt.Errorf("invalid change %q: %w", field(record, colChange), err)
	}
	if change.Sign() < 0 {
		return nil, fmt.Errorf("negative change %s; the direction is encoded by the kind", change.String())
	}

	platform := field(record, colPlatform)
	if platform == "" {
		return nil, fmt.Errorf("empty platform")
	}
	coin := strings.ToUpper(field(record, colCoin))
	if coin == "" {
		return nil, fmt.Errorf("empty coin")
	}

	op := &domain.Operation{
		Kind:     kind,
		Platform: platform,
		Coin:     coin,
		Change:   change,
		UTCTime:  utcTime,
		Remark:   field(record, colRemark),
	}

	feeCoin := strings.ToUpper(field(record, colFeeCoin))
	feeChange := field(record, colFeeChange)
	if feeCoin != "" || feeChange != "" {
		if feeCoin == "" || feeChange == "" {
			return nil, fmt.Errorf("fee_coin and fee_change must both be set")
		}
		feeAmount, err := decimal.NewFromString(feeChange)
		if err != nil {
			return nil, fmt.Errorf("invalid fee_change %q: %w", feeChange, err)
		}
		if feeAmount.Sign() < 0 {
			return nil, fmt.Errorf("negative fee_change %s", feeAmount.String())
		}
		if feeAmount.Sign() > 0 {
			op.Fees = append(op.Fees, &domain.Operation{
				Kind:     domain.OpFee,
				Platform: platform,
				Coin:     feeCoin,
				Change:   feeAmount,
				UTCTime:  utcTime,
			})
		}
	}

	return op, nil
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid utc_time %q", s)
}
