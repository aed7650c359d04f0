package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/pylonmon/internal/poller"
	"github.com/shaunagostinho/pylonmon/internal/pylon"
	"github.com/shaunagostinho/pylonmon/internal/table"
)

const header = "Power Volt Curr Tempr Tlow Thigh Vlow Vhigh Base.St Volt.St Curr.St Temp.St Coulomb Time B.V.St B.T.St MosTempr M.T.St"

func testReport(t *testing.T) table.Report {
	t.Helper()
	payload := header + "\n" +
		"1 49900 -1200 23100 22100 23300 3322 3330 Dischg Normal Normal Normal 86% 2024-05-01 12:30:00 Normal Normal 24100 Normal\n" +
		"2 49800 300 22000 21000 22500 3318 3325 Charge Normal Normal Normal 54% 2024-05-01 12:30:00 Normal Normal 23000 Normal\n" +
		"3 - - - - - - - Absent - - - - - - - - -"
	report, err := table.New(table.Tokens(table.PowerSchema())).Decode(payload)
	require.NoError(t, err)
	return report
}

func TestExporter_BatteryGauges(t *testing.T) {
	e := NewExporter()
	e.Observe(poller.Result{At: time.Unix(1700000000, 0), Duration: 250 * time.Millisecond, Report: testReport(t)})

	expected := `
		# HELP pylon_battery_volt Battery voltage in mV
		# TYPE pylon_battery_volt gauge
		pylon_battery_volt{battery="1"} 49900
		pylon_battery_volt{battery="2"} 49800
		# HELP pylon_battery_coulomb State of charge in percent
		# TYPE pylon_battery_coulomb gauge
		pylon_battery_coulomb{battery="1"} 86
		pylon_battery_coulomb{battery="2"} 54
		# HELP pylon_batteries Number of present batteries in the last report
		# TYPE pylon_batteries gauge
		pylon_batteries 2
	`
	err := testutil.CollectAndCompare(e, strings.NewReader(expected),
		"pylon_battery_volt", "pylon_battery_coulomb", "pylon_batteries")
	assert.NoError(t, err)

	expected = `
		# HELP pylon_battery_state_info Status columns reported for each battery
		# TYPE pylon_battery_state_info gauge
		pylon_battery_state_info{bat_temp="Normal",bat_volt="Normal",base="Dischg",battery="1",curr="Normal",mos_temp="Normal",temp="Normal",volt="Normal"} 1
		pylon_battery_state_info{bat_temp="Normal",bat_volt="Normal",base="Charge",battery="2",curr="Normal",mos_temp="Normal",temp="Normal",volt="Normal"} 1
	`
	err = testutil.CollectAndCompare(e, strings.NewReader(expected), "pylon_battery_state_info")
	assert.NoError(t, err)
}

func TestExporter_PollCounters(t *testing.T) {
	e := NewExporter()
	report := testReport(t)
	at := time.Unix(1700000000, 0)

	e.Observe(poller.Result{At: at, Duration: time.Second, Report: report})
	e.Observe(poller.Result{At: at.Add(5 * time.Second), Duration: 2 * time.Second,
		Err: &pylon.CommandError{Command: "pwr", Err: fmt.Errorf("read: %w", pylon.ErrReadTimeout)}})
	e.Observe(poller.Result{At: at.Add(10 * time.Second), Duration: time.Second, Err: errors.New("boom")})

	expected := `
		# HELP pylon_polls_total Number of polls performed
		# TYPE pylon_polls_total counter
		pylon_polls_total 3
		# HELP pylon_poll_failures_total Number of failed polls by failure kind
		# TYPE pylon_poll_failures_total counter
		pylon_poll_failures_total{kind="other"} 1
		pylon_poll_failures_total{kind="read_timeout"} 1
		# HELP pylon_last_success_timestamp_seconds Unix time of the last successful poll
		# TYPE pylon_last_success_timestamp_seconds gauge
		pylon_last_success_timestamp_seconds 1.700000001e+09
		# HELP pylon_last_poll_duration_seconds Wall time of the last poll
		# TYPE pylon_last_poll_duration_seconds gauge
		pylon_last_poll_duration_seconds 1
	`
	err := testutil.CollectAndCompare(e, strings.NewReader(expected),
		"pylon_polls_total", "pylon_poll_failures_total",
		"pylon_last_success_timestamp_seconds", "pylon_last_poll_duration_seconds")
	assert.NoError(t, err)

	// failed polls keep the last good readings
	n, err := testutil.GatherAndCount(e.Registry(), "pylon_battery_volt")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestExporter_SkipsUncoercedCells(t *testing.T) {
	payload := header + "\n" +
		"1 49x00 -1200 23100 22100 23300 3322 3330 Dischg Normal Normal Normal 86% 2024-05-01 12:30:00 Normal Normal 24100 Normal"
	report, err := table.New(table.Tokens(table.PowerSchema()), table.WithCoercion(table.Lenient)).Decode(payload)
	require.NoError(t, err)

	e := NewExporter()
	e.Observe(poller.Result{At: time.Now(), Report: report})

	n, err := testutil.GatherAndCount(e.Registry(), "pylon_battery_volt")
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = testutil.GatherAndCount(e.Registry(), "pylon_battery_curr")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestExporter_Lint(t *testing.T) {
	e := NewExporter()
	e.Observe(poller.Result{At: time.Now(), Report: testReport(t)})

	problems, err := testutil.GatherAndLint(e.Registry())
	require.NoError(t, err)
	assert.Empty(t, problems, "metrics have lint problems: %v", problems)
}

func TestExporter_Handler(t *testing.T) {
	e := NewExporter()
	e.Observe(poller.Result{At: time.Now(), Report: testReport(t)})

	srv := httptest.NewServer(e.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `pylon_battery_mos_tempr{battery="1"} 24100`)
}
