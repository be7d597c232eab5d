package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vinodismyname/mcpkpi/internal/catalog"
	"github.com/vinodismyname/mcpkpi/internal/dataset"
	"github.com/vinodismyname/mcpkpi/internal/engine"
	"github.com/vinodismyname/mcpkpi/internal/graph"
	"github.com/vinodismyname/mcpkpi/internal/match"
	"github.com/vinodismyname/mcpkpi/internal/runtime"
	"github.com/vinodismyname/mcpkpi/internal/security"
	"github.com/vinodismyname/mcpkpi/internal/telemetry"
	"github.com/vinodismyname/mcpkpi/pkg/mcperr"
	"github.com/vinodismyname/mcpkpi/pkg/pagination"
	"github.com/vinodismyname/mcpkpi/pkg/validation"
)

// --- Input / Output Schemas (typed for discovery) ---

// OpenDatasetInput defines parameters for opening a tabular dataset.
type OpenDatasetInput struct {
	Path string `json:"path" validate:"required,filepath_ext" jsonschema_description:"Absolute or allowed path to a tabular dataset (.xlsx, .xlsm, .csv)"`
}

// OpenDatasetOutput documents the response fields for open_dataset.
type OpenDatasetOutput struct {
	DatasetID      string `json:"dataset_id" jsonschema_description:"Server-assigned dataset handle ID"`
	Path           string `json:"path" jsonschema_description:"Canonical path the dataset was loaded from"`
	Rows           int    `json:"rows" jsonschema_description:"Loaded row count (bounded by maxRowsPerLoad)"`
	Columns        int    `json:"columns" jsonschema_description:"Column count"`
	MaxRowsPerLoad int    `json:"maxRowsPerLoad" jsonschema_description:"Row cap applied at load time"`
}

// CloseDatasetInput defines parameters for closing a dataset handle.
type CloseDatasetInput struct {
	DatasetID string `json:"dataset_id" validate:"required" jsonschema_description:"Dataset handle ID to close"`
}

// ColumnInfo describes one dataset column for matching diagnostics.
type ColumnInfo struct {
	Name        string  `json:"name" jsonschema_description:"Raw column name"`
	Normalized  string  `json:"normalized" jsonschema_description:"Canonical name used for KPI matching"`
	Kind        string  `json:"kind" jsonschema_description:"Inferred kind: numeric, date, or text"`
	NumericRate float64 `json:"numeric_rate" jsonschema_description:"Share of non-blank cells parseable as numbers"`
	DateRate    float64 `json:"date_rate" jsonschema_description:"Share of non-blank cells parseable as dates"`
}

// DescribeDatasetInput identifies the dataset to describe.
type DescribeDatasetInput struct {
	DatasetID string `json:"dataset_id" validate:"required" jsonschema_description:"Dataset handle ID"`
}

// DescribeDatasetOutput summarizes dataset shape and column kinds.
type DescribeDatasetOutput struct {
	DatasetID      string       `json:"dataset_id"`
	Rows           int          `json:"rows"`
	Columns        []ColumnInfo `json:"columns"`
	DateCandidates []string     `json:"date_candidates,omitempty" jsonschema_description:"Columns usable as a time axis"`
	Sample         [][]string   `json:"sample,omitempty" jsonschema_description:"First rows of raw cell values, in column order"`
}

// KPIInfo is one catalog entry as surfaced to clients.
type KPIInfo struct {
	Name         string   `json:"name"`
	Formula      string   `json:"formula"`
	Placeholders []string `json:"placeholders,omitempty" jsonschema_description:"Abstract column names the formula needs"`
	Dependencies []string `json:"dependencies,omitempty" jsonschema_description:"Other KPIs whose values the formula references"`
	Type         string   `json:"type,omitempty"`
	Description  string   `json:"description,omitempty"`
	Category     string   `json:"category,omitempty"`
}

// ListKPIsOutput documents the merged catalog.
type ListKPIsOutput struct {
	KPIs []KPIInfo `json:"kpis"`
}

// RegisterKPIInput defines a user-supplied KPI definition.
type RegisterKPIInput struct {
	Name         string   `json:"name" validate:"required,kpiname" jsonschema_description:"Unique KPI name; overrides a catalog entry of the same name"`
	Formula      string   `json:"formula" validate:"required,formula" jsonschema_description:"Single expression over df[placeholder] references, kpis[Name] dependency references, and the aggregate builtins"`
	Columns      []string `json:"columns,omitempty" jsonschema_description:"Placeholders the formula references"`
	Dependencies []string `json:"dependencies,omitempty" jsonschema_description:"KPI names the formula references via kpis[...]"`
	Type         string   `json:"type,omitempty" jsonschema_description:"metric (default) or categorical"`
	Description  string   `json:"description,omitempty"`
	Category     string   `json:"category,omitempty"`
}

// RegisterKPIOutput acknowledges a registered definition.
type RegisterKPIOutput struct {
	Name       string `json:"name"`
	Registered bool   `json:"registered"`
}

// DetectKPIsInput identifies the dataset to run the matching stage against.
type DetectKPIsInput struct {
	DatasetID string   `json:"dataset_id" validate:"required" jsonschema_description:"Dataset handle ID"`
	KPIs      []string `json:"kpis,omitempty" jsonschema_description:"Restrict to these KPI names (dependencies are pulled in automatically)"`
}

// DetectKPIsOutput reports per-KPI matchability verdicts plus any
// LLM-proposed definitions for poorly covered datasets.
type DetectKPIsOutput struct {
	DatasetID  string           `json:"dataset_id"`
	Calculable int              `json:"calculable"`
	Statuses   []*engine.Status `json:"statuses"`
	Generated  []KPIInfo        `json:"generated,omitempty" jsonschema_description:"KPI definitions proposed from the dataset's own columns when catalog coverage is low; pass one to register_kpi to adopt it"`
}

// CalculateKPIsInput identifies the dataset and optional KPI subset.
type CalculateKPIsInput struct {
	DatasetID string   `json:"dataset_id" validate:"required" jsonschema_description:"Dataset handle ID"`
	KPIs      []string `json:"kpis,omitempty" jsonschema_description:"Restrict to these KPI names (dependencies are pulled in automatically)"`
}

// CalculateKPIsOutput reports whole-dataset evaluation results.
type CalculateKPIsOutput struct {
	DatasetID string           `json:"dataset_id"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Statuses  []*engine.Status `json:"statuses"`
}

// PageMeta captures paging/truncation metadata.
type PageMeta struct {
	Total      int    `json:"total"`
	Returned   int    `json:"returned"`
	Truncated  bool   `json:"truncated"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// CalculateTrendInput identifies the dataset and paging parameters.
type CalculateTrendInput struct {
	DatasetID string   `json:"dataset_id" validate:"required_without=Cursor" jsonschema_description:"Dataset handle ID (omit when paging with cursor)"`
	KPIs      []string `json:"kpis,omitempty" jsonschema_description:"Restrict to these KPI names (dependencies are pulled in automatically)"`
	PageSize  int      `json:"page_size,omitempty" validate:"omitempty,min=1,max=120" jsonschema_description:"Periods per page"`
	Cursor    string   `json:"cursor,omitempty" validate:"omitempty,cursor" jsonschema_description:"Opaque cursor from a previous page"`
}

// CalculateTrendOutput reports one page of per-period results.
type CalculateTrendOutput struct {
	DatasetID string          `json:"dataset_id"`
	Meta      engine.Meta     `json:"meta"`
	Periods   []engine.Period `json:"periods"`
	Page      PageMeta        `json:"page"`
}

// RegisterKPITools wires the dataset and KPI tools onto the server.
func RegisterKPITools(s *server.MCPServer, reg *Registry, limits runtime.Limits, mgr *dataset.Manager, store *catalog.Store, eng *engine.Engine, hooks *telemetry.Hooks) {
	// open_dataset
	openTool := mcp.NewTool(
		"open_dataset",
		mcp.WithDescription("Open a tabular dataset (.xlsx, .xlsm, .csv) and return a handle ID. The first worksheet is used for workbooks; the first row is treated as the header."),
		mcp.WithInputSchema[OpenDatasetInput](),
		mcp.WithOutputSchema[OpenDatasetOutput](),
	)
	s.AddTool(openTool, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in OpenDatasetInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcperr.FromText(msg), nil
		}
		id, canonical, err := mgr.Open(ctx, in.Path)
		if err != nil {
			switch {
			case errors.Is(err, security.ErrNotAllowed):
				return mcperr.New(mcperr.PermissionDenied, "path is outside the allowed directories"), nil
			case errors.Is(err, security.ErrUnsupportedExtension):
				return mcperr.New(mcperr.UnsupportedFormat, ""), nil
			case errors.Is(err, security.ErrNotFound):
				return mcperr.Wrapf(mcperr.OpenFailed, "file not found: %s", in.Path), nil
			case errors.Is(err, context.DeadlineExceeded):
				return mcperr.New(mcperr.BusyResource, "open dataset capacity reached; close a dataset and retry"), nil
			}
			return mcperr.Wrapf(mcperr.OpenFailed, "%v", err), nil
		}
		out := OpenDatasetOutput{
			DatasetID:      id,
			Path:           canonical,
			MaxRowsPerLoad: limits.MaxRowsPerLoad,
		}
		_ = mgr.WithDataset(id, func(d *dataset.Dataset) error {
			out.Rows = d.Rows()
			out.Columns = len(d.Columns())
			return nil
		})
		summary := fmt.Sprintf("dataset_id=%s rows=%d columns=%d", id, out.Rows, out.Columns)
		res := mcp.NewToolResultStructured(out, summary)
		res.Content = []mcp.Content{mcp.NewTextContent(summary)}
		return res, nil
	}))
	reg.Register(openTool)

	// close_dataset
	closeTool := mcp.NewTool(
		"close_dataset",
		mcp.WithDescription("Close a previously opened dataset handle and release its capacity"),
		mcp.WithInputSchema[CloseDatasetInput](),
		mcp.WithOutputSchema[struct {
			Success bool `json:"success" jsonschema_description:"True when the handle was closed"`
		}](),
	)
	s.AddTool(closeTool, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in CloseDatasetInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcperr.FromText(msg), nil
		}
		if err := mgr.CloseHandle(in.DatasetID); err != nil {
			return mcperr.New(mcperr.InvalidHandle, "unknown or expired dataset handle"), nil
		}
		out := struct {
			Success bool `json:"success" jsonschema_description:"True when the handle was closed"`
		}{Success: true}
		res := mcp.NewToolResultStructured(out, "closed")
		res.Content = []mcp.Content{mcp.NewTextContent("closed")}
		return res, nil
	}))
	reg.Register(closeTool)

	// describe_dataset
	describeTool := mcp.NewTool(
		"describe_dataset",
		mcp.WithDescription("Summarize a dataset: raw and normalized column names, inferred kinds (numeric, date, text), time-axis candidates, and a short sample of rows. Use before detect_kpis to understand what the matcher will see."),
		mcp.WithInputSchema[DescribeDatasetInput](),
		mcp.WithOutputSchema[DescribeDatasetOutput](),
	)
	s.AddTool(describeTool, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in DescribeDatasetInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcperr.FromText(msg), nil
		}
		out := DescribeDatasetOutput{DatasetID: in.DatasetID}
		err := mgr.WithDataset(in.DatasetID, func(d *dataset.Dataset) error {
			out.Rows = d.Rows()
			for _, col := range d.Columns() {
				info := ColumnInfo{Name: col, Normalized: match.Normalize(col), Kind: "text"}
				if _, parsed, total := d.Numbers(col); total > 0 {
					info.NumericRate = float64(parsed) / float64(total)
				}
				if _, parsed, total := d.Times(col); total > 0 {
					info.DateRate = float64(parsed) / float64(total)
				}
				switch {
				case info.DateRate > 0.5:
					info.Kind = "date"
					out.DateCandidates = append(out.DateCandidates, col)
				case info.NumericRate > 0.5:
					info.Kind = "numeric"
				}
				out.Columns = append(out.Columns, info)
			}
			for row := 0; row < d.Rows() && row < limits.PreviewRowLimit; row++ {
				cells := make([]string, 0, len(d.Columns()))
				for _, col := range d.Columns() {
					s, _ := d.Cell(row, col)
					cells = append(cells, s)
				}
				out.Sample = append(out.Sample, cells)
			}
			return nil
		})
		if err != nil {
			return mcperr.New(mcperr.InvalidHandle, "unknown or expired dataset handle"), nil
		}
		summary := fmt.Sprintf("rows=%d columns=%d date_candidates=%d", out.Rows, len(out.Columns), len(out.DateCandidates))
		res := mcp.NewToolResultStructured(out, summary)
		res.Content = []mcp.Content{mcp.NewTextContent(summary)}
		return res, nil
	}))
	reg.Register(describeTool)

	// list_kpis
	listTool := mcp.NewTool(
		"list_kpis",
		mcp.WithDescription("List the merged KPI catalog: built-in definitions, user catalog file entries, and runtime registrations, with formulas, placeholders, and dependencies."),
		mcp.WithOutputSchema[ListKPIsOutput](),
	)
	s.AddTool(listTool, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in struct{}) (*mcp.CallToolResult, error) {
		defs := store.Definitions()
		out := ListKPIsOutput{KPIs: make([]KPIInfo, 0, len(defs))}
		for _, name := range store.Names() {
			def := defs[name]
			out.KPIs = append(out.KPIs, KPIInfo{
				Name:         def.Name,
				Formula:      def.Formula,
				Placeholders: def.Columns,
				Dependencies: def.Dependencies,
				Type:         def.Type,
				Description:  def.Description,
				Category:     def.Category,
			})
		}
		summary := fmt.Sprintf("kpis=%d", len(out.KPIs))
		res := mcp.NewToolResultStructured(out, summary)
		res.Content = []mcp.Content{mcp.NewTextContent(summary)}
		return res, nil
	}))
	reg.Register(listTool)

	// register_kpi
	registerTool := mcp.NewTool(
		"register_kpi",
		mcp.WithDescription("Register a custom KPI definition for this server instance. The formula must be a single expression over df[placeholder] references, kpis[Name] dependency references, and the aggregate builtins (sum, mean, count, count_distinct, median, std, group_sum, group_mean, group_count). Overrides a catalog entry of the same name."),
		mcp.WithInputSchema[RegisterKPIInput](),
		mcp.WithOutputSchema[RegisterKPIOutput](),
	)
	s.AddTool(registerTool, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in RegisterKPIInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcperr.FromText(msg), nil
		}
		def := catalog.Definition{
			Name:         strings.TrimSpace(in.Name),
			Formula:      strings.TrimSpace(in.Formula),
			Columns:      in.Columns,
			Dependencies: in.Dependencies,
			Type:         in.Type,
			Description:  in.Description,
			Category:     in.Category,
		}
		if err := store.Register(def); err != nil {
			return mcperr.Wrapf(mcperr.CatalogInvalid, "%v", err), nil
		}
		out := RegisterKPIOutput{Name: def.Name, Registered: true}
		summary := fmt.Sprintf("registered %q", def.Name)
		res := mcp.NewToolResultStructured(out, summary)
		res.Content = []mcp.Content{mcp.NewTextContent(summary)}
		return res, nil
	}))
	reg.Register(registerTool)

	// detect_kpis
	detectTool := mcp.NewTool(
		"detect_kpis",
		mcp.WithDescription("Decide which catalog KPIs are calculable against a dataset and how their placeholders bind to columns, without evaluating anything. Non-calculable base KPIs include a reason; non-calculable derived KPIs are omitted. When the catalog covers the dataset poorly and an LLM is configured, additional KPI definitions are proposed from the dataset's own columns and returned under 'generated'."),
		mcp.WithInputSchema[DetectKPIsInput](),
		mcp.WithOutputSchema[DetectKPIsOutput](),
	)
	s.AddTool(detectTool, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in DetectKPIsInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcperr.FromText(msg), nil
		}
		defs, errRes := selectDefinitions(store, in.KPIs)
		if errRes != nil {
			return errRes, nil
		}
		var (
			statuses  map[string]*engine.Status
			generated []catalog.Definition
		)
		err := mgr.WithDataset(in.DatasetID, func(d *dataset.Dataset) error {
			var err error
			statuses, generated, err = eng.DetectKPIs(ctx, d, defs)
			return err
		})
		if res := matchErrResult(err); res != nil {
			return res, nil
		}
		out := DetectKPIsOutput{DatasetID: in.DatasetID, Statuses: sortStatuses(statuses)}
		for _, st := range out.Statuses {
			if st.Calculable {
				out.Calculable++
			}
		}
		for _, def := range generated {
			out.Generated = append(out.Generated, KPIInfo{
				Name:         def.Name,
				Formula:      def.Formula,
				Placeholders: def.Columns,
				Type:         def.Type,
				Description:  def.Description,
				Category:     def.Category,
			})
		}
		summary := fmt.Sprintf("calculable=%d of %d generated=%d", out.Calculable, len(out.Statuses), len(out.Generated))
		res := mcp.NewToolResultStructured(out, summary)
		res.Content = []mcp.Content{mcp.NewTextContent(summary)}
		return res, nil
	}))
	reg.Register(detectTool)

	// calculate_kpis
	calcTool := mcp.NewTool(
		"calculate_kpis",
		mcp.WithDescription("Match, order, and evaluate KPIs against the whole dataset. Evaluation failures are reported per KPI and never abort the run; a dependency cycle in the catalog is the only fatal error."),
		mcp.WithInputSchema[CalculateKPIsInput](),
		mcp.WithOutputSchema[CalculateKPIsOutput](),
	)
	s.AddTool(calcTool, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in CalculateKPIsInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcperr.FromText(msg), nil
		}
		defs, errRes := selectDefinitions(store, in.KPIs)
		if errRes != nil {
			return errRes, nil
		}
		start := time.Now()
		var statuses map[string]*engine.Status
		err := mgr.WithDataset(in.DatasetID, func(d *dataset.Dataset) error {
			var err error
			statuses, err = eng.Calculate(ctx, d, defs)
			return err
		})
		if res := matchErrResult(err); res != nil {
			return res, nil
		}
		if hooks != nil {
			hooks.OnCalculation(in.DatasetID, len(statuses), 0, time.Since(start))
		}
		out := CalculateKPIsOutput{DatasetID: in.DatasetID, Statuses: sortStatuses(statuses)}
		for _, st := range out.Statuses {
			if st.Outcome.OK() {
				out.Succeeded++
			} else if st.Outcome != nil {
				out.Failed++
			}
		}
		summary := fmt.Sprintf("succeeded=%d failed=%d skipped=%d", out.Succeeded, out.Failed, len(out.Statuses)-out.Succeeded-out.Failed)
		res := mcp.NewToolResultStructured(out, summary)
		res.Content = []mcp.Content{mcp.NewTextContent(summary)}
		return res, nil
	}))
	reg.Register(calcTool)

	// calculate_kpis_trend
	trendTool := mcp.NewTool(
		"calculate_kpis_trend",
		mcp.WithDescription("Partition the dataset by its detected time axis (weekly under 30 days of span, monthly otherwise) and evaluate KPIs independently per period. Results are paginated by period; pass the returned cursor to fetch the next page. Matchability is recomputed per period, so a KPI may be absent or non-calculable in some periods."),
		mcp.WithInputSchema[CalculateTrendInput](),
		mcp.WithOutputSchema[CalculateTrendOutput](),
	)
	s.AddTool(trendTool, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in CalculateTrendInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcperr.FromText(msg), nil
		}
		offset := 0
		pageSize := in.PageSize
		if pageSize <= 0 {
			pageSize = limits.PeriodPageSize
		}
		datasetID := in.DatasetID
		if in.Cursor != "" {
			cur, err := pagination.DecodeCursor(in.Cursor)
			if err != nil {
				return mcperr.New(mcperr.CursorInvalid, ""), nil
			}
			if datasetID != "" && datasetID != cur.Did {
				return mcperr.New(mcperr.CursorInvalid, "cursor belongs to a different dataset"), nil
			}
			if cur.Kh != "" && cur.Kh != kpiSelectionHash(in.KPIs) {
				return mcperr.New(mcperr.CursorInvalid, "KPI selection changed since the cursor was issued"), nil
			}
			datasetID = cur.Did
			offset = cur.Off
			if in.PageSize <= 0 {
				pageSize = cur.Ps
			}
		}
		if datasetID == "" {
			return mcperr.New(mcperr.Validation, "dataset_id is required"), nil
		}
		defs, errRes := selectDefinitions(store, in.KPIs)
		if errRes != nil {
			return errRes, nil
		}
		start := time.Now()
		var trend *engine.TrendResult
		err := mgr.WithDataset(datasetID, func(d *dataset.Dataset) error {
			var err error
			trend, err = eng.CalculateTrend(ctx, d, defs)
			return err
		})
		if errors.Is(err, engine.ErrNoTimeAxis) {
			return mcperr.New(mcperr.NoTimeAxis, ""), nil
		}
		if res := matchErrResult(err); res != nil {
			return res, nil
		}
		if hooks != nil {
			hooks.OnCalculation(datasetID, len(defs), len(trend.Periods), time.Since(start))
		}

		total := len(trend.Periods)
		if offset > total {
			offset = total
		}
		end := offset + pageSize
		if end > total {
			end = total
		}
		out := CalculateTrendOutput{
			DatasetID: datasetID,
			Meta:      trend.Meta,
			Periods:   trend.Periods[offset:end],
			Page: PageMeta{
				Total:     total,
				Returned:  end - offset,
				Truncated: end < total,
			},
		}
		if end < total {
			token, err := pagination.EncodeCursor(pagination.Cursor{
				Did: datasetID,
				Off: pagination.NextOffset(offset, end-offset),
				Ps:  pageSize,
				G:   string(trend.Meta.Granularity),
				Kh:  kpiSelectionHash(in.KPIs),
			})
			if err == nil {
				out.Page.NextCursor = token
			}
		}
		if payload, err := json.Marshal(out); err == nil && len(payload) > limits.MaxPayloadBytes {
			return mcperr.Wrapf(mcperr.PayloadTooLarge, "page of %d periods exceeds %d bytes; retry with a smaller page_size", out.Page.Returned, limits.MaxPayloadBytes), nil
		}
		summary := fmt.Sprintf("granularity=%s periods=%d/%d axis=%q", trend.Meta.Granularity, out.Page.Returned, total, trend.Meta.DateColumn)
		res := mcp.NewToolResultStructured(out, summary)
		res.Content = []mcp.Content{mcp.NewTextContent(summary)}
		return res, nil
	}))
	reg.Register(trendTool)
}

// selectDefinitions restricts the catalog to the requested KPIs plus the
// transitive dependencies they need. An empty request selects everything.
func selectDefinitions(store *catalog.Store, requested []string) (map[string]catalog.Definition, *mcp.CallToolResult) {
	all := store.Definitions()
	if len(requested) == 0 {
		return all, nil
	}
	selected := make(map[string]catalog.Definition)
	queue := append([]string(nil), requested...)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if _, ok := selected[name]; ok {
			continue
		}
		def, ok := all[name]
		if !ok {
			return nil, mcperr.Wrapf(mcperr.Validation, "unknown KPI: %q", name)
		}
		selected[name] = def
		queue = append(queue, def.Dependencies...)
	}
	return selected, nil
}

// matchErrResult maps engine and handle errors onto tool error results; nil
// means no error.
func matchErrResult(err error) *mcp.CallToolResult {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, dataset.ErrHandleNotFound):
		return mcperr.New(mcperr.InvalidHandle, "unknown or expired dataset handle")
	}
	var cycle *graph.CycleError
	if errors.As(err, &cycle) {
		return mcperr.Wrapf(mcperr.CircularDependency, "%v", cycle)
	}
	return mcperr.Wrapf(mcperr.CalculationFailed, "%v", err)
}

// sortStatuses orders statuses by name for stable output.
func sortStatuses(statuses map[string]*engine.Status) []*engine.Status {
	out := make([]*engine.Status, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// kpiSelectionHash fingerprints a KPI selection so cursors detect drift.
func kpiSelectionHash(names []string) string {
	if len(names) == 0 {
		return ""
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	h := fnv.New64a()
	for _, n := range sorted {
		_, _ = h.Write([]byte(n))
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum64())
}
