package internal

import (
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"chat-relay/repositories"
)

// inspectPage renders the raw store content plus live stats. Inline so
// the inspector works from any binary without shipping assets.
const inspectPage = `<!DOCTYPE html>
<html>
<head>
<title>chat-relay inspector</title>
<style>
body { font-family: monospace; margin: 2em; }
table { border-collapse: collapse; width: 100%; }
th, td { text-align: left; padding: 4px 12px; border-bottom: 1px solid #ddd; }
th { background: #222; color: #6f6; }
.stats { margin-bottom: 1.5em; color: #666; }
</style>
</head>
<body>
<h2>Store content &mdash; prefix "{{.Prefix}}"</h2>
<div class="stats">{{range $k, $v := .Stats}}{{$k}}={{$v}} {{end}}</div>
<table>
<tr><th>Key</th><th>Timestamp</th><th>Message</th><th>Sender</th><th>Receiver</th><th>Text</th></tr>
{{range .Items}}<tr><td>{{.Key}}</td><td>{{.Timestamp}}</td><td>{{.MessageID}}</td><td>{{.SenderID}}</td><td>{{.ReceiverID}}</td><td>{{.Detail}}</td></tr>
{{end}}
</table>
</body>
</html>`

type InspectRow struct {
	Key        string
	Timestamp  string
	MessageID  string
	SenderID   string
	ReceiverID string
	Detail     string
}

type RowMapper func(key string, val []byte) InspectRow
type StatsProvider func() map[string]any

type PageData struct {
	Prefix string
	Items  []InspectRow
	Stats  map[string]any
}

// StartDebugServer serves a read-only HTML view of the badger store on
// its own port. Only mounted when the logger runs at debug level.
func StartDebugServer(db *badger.DB, port int, endpoint string, mapper RowMapper, statsProvider StatsProvider) {
	mux := http.NewServeMux()
	tmpl := template.Must(template.New("inspect").Parse(inspectPage))

	if mapper == nil {
		mapper = DefaultMapper
	}

	mux.HandleFunc(endpoint, func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Query().Get("prefix")
		if prefix == "" {
			prefix = "msg:"
		}

		data := PageData{
			Prefix: prefix,
			Stats:  make(map[string]any),
		}

		if statsProvider != nil {
			data.Stats = statsProvider()
		}

		_ = db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()
			for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
				item := it.Item()
				_ = item.Value(func(val []byte) error {
					data.Items = append(data.Items, mapper(string(item.Key()), val))
					return nil
				})
			}
			return nil
		})

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = tmpl.Execute(w, data)
	})

	go func() {
		_ = http.ListenAndServe(fmt.Sprintf("0.0.0.0:%d", port), mux)
	}()
}

// MessageMapper decodes a stored message record into a display row.
func MessageMapper(key string, val []byte) InspectRow {
	row := DefaultMapper(key, val)

	var m repositories.DiskMessage
	if err := cbor.Unmarshal(val, &m); err != nil {
		return row
	}

	row.Timestamp = m.At.Format("15:04:05")
	row.MessageID = shorten(m.ID.String())
	row.SenderID = shorten(m.SenderID)
	row.ReceiverID = shorten(m.ReceiverID)
	row.Detail = m.Text
	if m.Image != "" {
		row.Detail += " [image]"
	}
	return row
}

func DefaultMapper(key string, val []byte) InspectRow {
	parts := strings.Split(key, ":")
	row := InspectRow{
		Key:       key,
		Timestamp: "--:--:--",
		MessageID: "--------",
		Detail:    "Size: " + strconv.Itoa(len(val)) + " bytes",
	}

	if len(parts) >= 4 {
		if tsNano, err := strconv.ParseInt(parts[len(parts)-2], 10, 64); err == nil {
			row.Timestamp = time.Unix(0, tsNano).Format("15:04:05")
		}
		row.MessageID = shorten(parts[len(parts)-1])
	}
	return row
}

func shorten(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
