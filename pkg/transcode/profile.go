// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package transcode

import "fmt"

// MapAvcProfile profile_idc转换为编码器的profile参数
func MapAvcProfile(profileIdc uint8) (string, bool) {
	switch profileIdc {
	case 66:
		return "baseline", true
	case 77:
		return "main", true
	case 100:
		return "high", true
	}
	return "", false
}

// MapAvcLevel level_idc转换为带点的形式，比如31 -> "3.1"，40 -> "4.0"
func MapAvcLevel(levelIdc uint8) string {
	return fmt.Sprintf("%d.%d", levelIdc/10, levelIdc%10)
}

// MapAacProfile AudioObjectType转换为aac编码器的profile参数
func MapAacProfile(aot uint8) (string, bool) {
	switch aot {
	case 1:
		return "aac_main", true
	case 2:
		return "aac_low", true
	case 4:
		return "aac_ltp", true
	case 5:
		return "aac_he", true
	case 29:
		return "aac_he_v2", true
	}
	return "", false
}
