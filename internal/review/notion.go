package review

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/product-patterns/pkg/notion"
)

// Review database properties.
const (
	propName        = "Name"
	propDomain      = "Domain"
	propURL         = "URL"
	propReason      = "Reason"
	propSuccessRate = "Success Rate"
	propIterations  = "Iterations"
	propFailing     = "Failing Fields"
	propStatus      = "Status"
	propLastSeen    = "Last Seen"

	// StatusNeedsReview marks an open review page.
	StatusNeedsReview = "Needs Review"

	maxTextRunes   = 2000
	maxReportBlock = 90
)

// NotionSink files exhausted runs in a Notion review database. A domain
// with an open page gets that page refreshed rather than a duplicate.
type NotionSink struct {
	client notion.Client
	dbID   string
}

// NewNotionSink creates a sink writing to database dbID.
func NewNotionSink(client notion.Client, dbID string) *NotionSink {
	return &NotionSink{client: client, dbID: dbID}
}

// File creates or refreshes the review page for p and returns its ID.
func (s *NotionSink) File(ctx context.Context, p Payload) (string, error) {
	open, err := s.openPage(ctx, p.Domain)
	if err != nil {
		return "", err
	}

	if open != "" {
		_, err := s.client.UpdatePage(ctx, open, &notionapi.PageUpdateRequest{
			Properties: runProperties(p),
		})
		if err != nil {
			return "", eris.Wrapf(err, "review: refresh notion page for %s", p.Domain)
		}
		zap.L().Info("review: notion page refreshed",
			zap.String("domain", p.Domain),
			zap.String("page_id", open),
		)
		return open, nil
	}

	props := runProperties(p)
	props[propName] = notion.Title(orDash(p.Domain))
	props[propDomain] = notion.RichText(p.Domain)
	props[propStatus] = notionapi.StatusProperty{
		Status: notionapi.Status{Name: StatusNeedsReview},
	}

	page, err := s.client.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(s.dbID),
		},
		Properties: props,
		Children:   reportBlocks(p.Report),
	})
	if err != nil {
		return "", eris.Wrapf(err, "review: create notion page for %s", p.Domain)
	}
	zap.L().Info("review: notion page created",
		zap.String("domain", p.Domain),
		zap.String("page_id", string(page.ID)),
	)
	return string(page.ID), nil
}

// openPage returns the ID of the domain's page still awaiting review, or "".
func (s *NotionSink) openPage(ctx context.Context, domain string) (string, error) {
	resp, err := s.client.QueryDatabase(ctx, s.dbID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.AndCompoundFilter{
			notionapi.PropertyFilter{
				Property: propDomain,
				RichText: &notionapi.TextFilterCondition{Equals: domain},
			},
			notionapi.PropertyFilter{
				Property: propStatus,
				Status:   &notionapi.StatusFilterCondition{Equals: StatusNeedsReview},
			},
		},
		PageSize: 1,
	})
	if err != nil {
		return "", eris.Wrapf(err, "review: find open notion page for %s", domain)
	}
	if len(resp.Results) == 0 {
		return "", nil
	}
	return string(resp.Results[0].ID), nil
}

func runProperties(p Payload) notionapi.Properties {
	seen := notionapi.Date(p.Timestamp)
	if p.Timestamp.IsZero() {
		seen = notionapi.Date(time.Now().UTC())
	}
	props := notionapi.Properties{
		propReason: notionapi.SelectProperty{
			Select: notionapi.Option{Name: orDash(p.Reason)},
		},
		propSuccessRate: notionapi.NumberProperty{Number: p.SuccessRate},
		propIterations:  notionapi.NumberProperty{Number: float64(p.Iterations)},
		propFailing:     notion.RichText(joinFields(p.FailingCriticalFields)),
		propLastSeen: notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &seen},
		},
	}
	if p.URL != "" {
		props[propURL] = notionapi.URLProperty{Type: notionapi.PropertyTypeURL, URL: p.URL}
	}
	return props
}

// reportBlocks splits the markdown report into paragraph blocks within
// Notion's per-text and per-request limits.
func reportBlocks(report string) []notionapi.Block {
	var blocks []notionapi.Block
	for _, chunk := range chunkLines(report, maxTextRunes) {
		if len(blocks) == maxReportBlock {
			blocks = append(blocks, notion.Paragraph("(report truncated)"))
			break
		}
		blocks = append(blocks, notion.Paragraph(chunk))
	}
	return blocks
}

// chunkLines groups lines into chunks of at most n runes. A single longer
// line is split on rune boundaries.
func chunkLines(s string, n int) []string {
	var chunks []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
		}
		cur.Reset()
		curLen = 0
	}
	for _, line := range strings.Split(s, "\n") {
		for utf8.RuneCountInString(line) > n {
			flush()
			r := []rune(line)
			chunks = append(chunks, string(r[:n]))
			line = string(r[n:])
		}
		l := utf8.RuneCountInString(line)
		if curLen > 0 && curLen+1+l > n {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte('\n')
			curLen++
		}
		cur.WriteString(line)
		curLen += l
	}
	flush()
	return chunks
}
