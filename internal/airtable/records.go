package airtable

import (
	"context"
	"iter"
	"net/url"
	"strconv"
)

// pageSize is the largest page the records endpoint serves.
const pageSize = 100

type recordsPage struct {
	Records []map[string]any `json:"records"`
	Offset  string           `json:"offset,omitempty"`
}

// Records iterates every record of a table, page by page. Each call to the
// returned sequence starts again from the first page. A failed page yields
// its error once and ends the sequence; none of its records are emitted.
func (c *Client) Records(ctx context.Context, baseID, tableID string) iter.Seq2[map[string]any, error] {
	return func(yield func(map[string]any, error) bool) {
		endpoint := url.PathEscape(baseID) + "/" + url.PathEscape(tableID)
		params := url.Values{"pageSize": {strconv.Itoa(pageSize)}}

		for page := 1; ; page++ {
			var resp recordsPage
			if err := c.getJSON(ctx, endpoint, params, &resp); err != nil {
				yield(nil, err)
				return
			}
			c.logger.Debug("fetched records page", "base", baseID, "table", tableID,
				"page", page, "records", len(resp.Records))

			for _, rec := range resp.Records {
				if !yield(rec, nil) {
					return
				}
			}
			if resp.Offset == "" {
				return
			}
			params.Set("offset", resp.Offset)
		}
	}
}
