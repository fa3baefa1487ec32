// Package ratelimit はクライアントキーごとのスライディングウィンドウ方式のレート制限を提供する。
//
// 直近のウィンドウ幅の間に受け付けたリクエストの時刻を保持し、
// その件数が上限に達している間は新しいリクエストを拒否する。
// 固定ウィンドウのような境界での倍量の受け付けは起こらない。
//
// キーはFNV-1aハッシュで複数のシャードに振り分けられ、シャードごとのロックで保護される。
// 異なるシャードのキーは互いに待ち合わせない。
package ratelimit
