package render

import (
	"os"

	"github.com/gocarina/gocsv"
)

// Row is one completed test's RES record in the shape gocsv needs to
// produce a CSV matching spec.md §4.8's field list, continuing the
// teacher's cmd/csvtool concern of making a measurement record
// machine-readable rather than only human-readable.
type Row struct {
	Test          string  `csv:"test"`
	SendBW        float64 `csv:"send_bw"`
	RecvBW        float64 `csv:"recv_bw"`
	MsgRate       float64 `csv:"msg_rate"`
	Latency       float64 `csv:"latency"`
	SendCost      float64 `csv:"send_cost"`
	RecvCost      float64 `csv:"recv_cost"`
	LocCPUTotal   float64 `csv:"loc_cpu_total"`
	RemCPUTotal   float64 `csv:"rem_cpu_total"`
	BytesSent     uint64  `csv:"bytes_sent"`
	BytesReceived uint64  `csv:"bytes_received"`
	Successful    bool    `csv:"successful"`
}

// WriteCSV marshals a single completed test's row to path, truncating any
// existing file, per the --csv client option.
func WriteCSV(path string, row Row) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gocsv.MarshalFile([]Row{row}, f)
}
