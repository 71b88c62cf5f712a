// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package player

import "sort"

// 相邻区间之间小于这个值的空隙视为连续
const regionTolerance = 0.05

type region struct {
	start float64
	end   float64
}

// regionSet 已经请求过的时间区间，按start有序，互不重叠
type regionSet struct {
	items []region
}

func (s *regionSet) add(start, end float64) {
	if end <= start {
		return
	}
	i := sort.Search(len(s.items), func(i int) bool {
		return s.items[i].end+regionTolerance >= start
	})
	j := i
	for j < len(s.items) && s.items[j].start <= end+regionTolerance {
		if s.items[j].start < start {
			start = s.items[j].start
		}
		if s.items[j].end > end {
			end = s.items[j].end
		}
		j++
	}
	merged := append([]region{}, s.items[:i]...)
	merged = append(merged, region{start: start, end: end})
	s.items = append(merged, s.items[j:]...)
}

func (s *regionSet) contains(t float64) bool {
	for _, r := range s.items {
		if t >= r.start-regionTolerance && t <= r.end+regionTolerance {
			return true
		}
	}
	return false
}

// before t之前最近的区间结束点
func (s *regionSet) before(t float64) (float64, bool) {
	end, ok := 0.0, false
	for _, r := range s.items {
		if r.end > t {
			break
		}
		end, ok = r.end, true
	}
	return end, ok
}

// after t之后最近的区间开始点
func (s *regionSet) after(t float64) (float64, bool) {
	for _, r := range s.items {
		if r.start > t {
			return r.start, true
		}
	}
	return 0, false
}

// covers [start, end)整体落在某一个区间内
func (s *regionSet) covers(start, end float64) bool {
	for _, r := range s.items {
		if start >= r.start-regionTolerance && end <= r.end+regionTolerance {
			return true
		}
	}
	return false
}
