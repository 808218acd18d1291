package metrics

import "sync/atomic"

var (
	filesSeen         int64
	duplicatesSkipped int64
	parseFailures     int64
	transferClosures  int64
	recallClosures    int64
	casesOpened       int64
	pipelineFailed    int64
	notificationsSent int64
)

func IncFilesSeen() { atomic.AddInt64(&filesSeen, 1) }
func IncDuplicatesSkipped() { atomic.AddInt64(&duplicatesSkipped, 1) }
func IncParseFailures() { atomic.AddInt64(&parseFailures, 1) }
func IncTransferClosures() { atomic.AddInt64(&transferClosures, 1) }
func IncRecallClosures() { atomic.AddInt64(&recallClosures, 1) }
func IncCasesOpened() { atomic.AddInt64(&casesOpened, 1) }
func IncPipelineFailed() { atomic.AddInt64(&pipelineFailed, 1) }
func IncNotificationsSent() { atomic.AddInt64(&notificationsSent, 1) }

func Snapshot() map[string]int64 {
	return map[string]int64{
		"files_seen":         atomic.LoadInt64(&filesSeen),
		"duplicates_skipped": atomic.LoadInt64(&duplicatesSkipped),
		"parse_failures":     atomic.LoadInt64(&parseFailures),
		"transfer_closures":  atomic.LoadInt64(&transferClosures),
		"recall_closures":    atomic.LoadInt64(&recallClosures),
		"cases_opened":       atomic.LoadInt64(&casesOpened),
		"pipeline_failed":    atomic.LoadInt64(&pipelineFailed),
		"notifications_sent": atomic.LoadInt64(&notificationsSent),
	}
}
