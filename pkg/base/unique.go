// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package base

import "github.com/q191201771/naza/pkg/unique"

const (
	UkPreRtmpServerSession = "RTMPPUB"
	UkPreIngestController  = "INGEST"
	UkPreTransmuxer        = "TRANSMUX"
	UkPreTranscoder        = "TRANSCODE"
	UkPreEdgeRequest       = "EDGE"
	UkPreTrackRunner       = "TRACK"
)

func GenUkRtmpServerSession() string {
	return siUkRtmpServerSession.GenUniqueKey()
}

func GenUkIngestController() string {
	return siUkIngestController.GenUniqueKey()
}

func GenUkTransmuxer() string {
	return siUkTransmuxer.GenUniqueKey()
}

func GenUkTranscoder() string {
	return siUkTranscoder.GenUniqueKey()
}

func GenUkEdgeRequest() string {
	return siUkEdgeRequest.GenUniqueKey()
}

func GenUkTrackRunner() string {
	return siUkTrackRunner.GenUniqueKey()
}

var (
	siUkRtmpServerSession *unique.SingleGenerator
	siUkIngestController  *unique.SingleGenerator
	siUkTransmuxer        *unique.SingleGenerator
	siUkTranscoder        *unique.SingleGenerator
	siUkEdgeRequest       *unique.SingleGenerator
	siUkTrackRunner       *unique.SingleGenerator
)

func init() {
	siUkRtmpServerSession = unique.NewSingleGenerator(UkPreRtmpServerSession)
	siUkIngestController = unique.NewSingleGenerator(UkPreIngestController)
	siUkTransmuxer = unique.NewSingleGenerator(UkPreTransmuxer)
	siUkTranscoder = unique.NewSingleGenerator(UkPreTranscoder)
	siUkEdgeRequest = unique.NewSingleGenerator(UkPreEdgeRequest)
	siUkTrackRunner = unique.NewSingleGenerator(UkPreTrackRunner)
}
