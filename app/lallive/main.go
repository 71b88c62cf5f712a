// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/lallive/pkg/logic"
	"github.com/q191201771/naza/pkg/bininfo"
	"github.com/q191201771/naza/pkg/nazalog"
)

func main() {
	defer nazalog.Sync()

	confFilename := parseFlag()
	s, err := logic.NewLalliveServer(func(option *logic.Option) {
		option.ConfFilename = confFilename
	})
	if err != nil {
		nazalog.Errorf("create lallive server failed. err=%+v", err)
		base.OsExitAndWaitPressIfWindows(1)
	}

	err = s.RunLoop()
	nazalog.Infof("server manager done. err=%+v", err)
}

func parseFlag() string {
	binInfoFlag := flag.Bool("v", false, "show bin info")
	cf := flag.String("c", "", "specify conf file")
	flag.Parse()
	if *binInfoFlag {
		_, _ = fmt.Fprint(os.Stderr, bininfo.StringifyMultiLine())
		_, _ = fmt.Fprintln(os.Stderr, base.LalliveFullInfo)
		os.Exit(0)
	}
	return *cf
}
