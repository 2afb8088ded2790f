package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/sip2gate/internal/account"
	"github.com/danmuck/sip2gate/internal/backend"
	"github.com/danmuck/sip2gate/internal/sip2"
	"github.com/tidwall/gjson"
)

// SIP2 circulation status values.
const (
	circOther          = "01"
	circOnOrder        = "02"
	circAvailable      = "03"
	circCharged        = "04"
	circInProcess      = "06"
	circMissing        = "12"
	circInTransit      = "10"
	circWaitingReshelf = "09"
	circWaitingPickup  = "08"
	circLost           = "13"
)

// Backend copy status id -> circulation status.
var copyStatusMap = map[int64]string{
	0: circAvailable,
	1: circCharged,
	3: circLost,
	4: circMissing,
	5: circInProcess,
	6: circInTransit,
	7: circWaitingReshelf,
	8: circWaitingPickup,
	9: circOnOrder,
}

func circulationStatus(statusID int64) string {
	if s, ok := copyStatusMap[statusID]; ok {
		return s
	}
	return circOther
}

// Circulation modifier -> SIP2 media type.
var mediaTypeMap = map[string]string{
	"book":      "001",
	"magazine":  "002",
	"journal":   "003",
	"audiobook": "004",
	"video":     "005",
	"dvd":       "005",
	"cd":        "006",
	"software":  "007",
}

func mediaType(modifier string) string {
	if t, ok := mediaTypeMap[strings.ToLower(strings.TrimSpace(modifier))]; ok {
		return t
	}
	return "000"
}

var copyFlesh = map[string]any{
	"flesh": 4,
	"flesh_fields": map[string]any{
		"acp":  []string{"circ_lib", "location", "status", "call_number", "transit"},
		"acn":  []string{"record"},
		"bre":  []string{"simple_record"},
		"atc":  []string{"dest"},
		"acpl": []string{},
	},
}

type itemInfo struct {
	found      bool
	barcode    string
	title      string
	callNumber string
	circLib    string
	dest       string
	price      string
	modifier   string
	statusID   int64
	dueDate    string
	holdQueue  int64
}

func (s *Session) handleItemInfo(ctx context.Context, req *sip2.Message, acct account.Account) (*sip2.Message, error) {
	barcode, ok := req.FieldValue(sip2.TagItemID)
	if !ok || barcode == "" {
		return nil, fmt.Errorf("%w: item info without %s", ErrProtocol, sip2.TagItemID)
	}

	var item itemInfo
	err := s.withAuth(ctx, acct, func(ctx context.Context) error {
		var err error
		item, err = s.lookupItem(ctx, barcode)
		return err
	})
	if err != nil {
		return nil, err
	}

	date := sip2.DateNow()
	if !item.found {
		return sip2.FromValues(sip2.MItemInfoResp, []string{circOther, "00", "01", date}, [][2]string{
			{sip2.TagItemID, barcode},
			{sip2.TagTitleID, ""},
		})
	}

	circ := circulationStatus(item.statusID)
	resp, err := sip2.FromValues(sip2.MItemInfoResp, []string{circ, "00", "01", date}, [][2]string{
		{sip2.TagItemID, item.barcode},
		{sip2.TagTitleID, item.title},
		{sip2.TagCurrentLocation, item.circLib},
		{sip2.TagPermLocation, item.circLib},
		{sip2.TagOwner, item.circLib},
		{sip2.TagCallNumber, item.callNumber},
		{sip2.TagHoldQueueLength, fmt.Sprint(item.holdQueue)},
		{sip2.TagMediaType, mediaType(item.modifier)},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	if item.price != "" {
		resp.AddField(sip2.TagFeeAmount, item.price)
	}
	if item.dest != "" {
		resp.AddField(sip2.TagDestination, item.dest)
	}
	if circ == circCharged && item.dueDate != "" {
		resp.AddField(sip2.TagDueDate, sipDate(item.dueDate))
	}
	return resp, nil
}

func (s *Session) lookupItem(ctx context.Context, barcode string) (itemInfo, error) {
	rows, err := s.editor.Search(ctx, "acp", map[string]any{"barcode": barcode, "deleted": "f"}, copyFlesh)
	if err != nil {
		return itemInfo{}, err
	}
	if len(rows) == 0 {
		return itemInfo{barcode: barcode}, nil
	}
	row := rows[0]

	item := itemInfo{
		found:      true,
		barcode:    row.Get("barcode").String(),
		title:      row.Get("call_number.record.simple_record.title").String(),
		callNumber: row.Get("call_number.label").String(),
		circLib:    row.Get("circ_lib.shortname").String(),
		dest:       row.Get("transit.dest.shortname").String(),
		price:      row.Get("price").String(),
		modifier:   row.Get("circ_modifier").String(),
		statusID:   fleshedID(row.Get("status")),
		dueDate:    row.Get("due_date").String(),
	}

	queue, err := s.editor.Request(ctx, backend.MethodCopyHoldQueue, row.Get("id").Int())
	if err != nil {
		return itemInfo{}, err
	}
	item.holdQueue = queue.Int()
	return item, nil
}

// fleshedID reads an id from either a fleshed object or a bare scalar.
func fleshedID(v gjson.Result) int64 {
	if v.IsObject() {
		return v.Get("id").Int()
	}
	return v.Int()
}

var backendDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02",
}

// sipDate converts a backend timestamp to a SIP2 date; unparseable values
// pass through.
func sipDate(raw string) string {
	for _, layout := range backendDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return sip2.Date(t)
		}
	}
	return raw
}
