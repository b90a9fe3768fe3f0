// Package api はユーザー・アイテム・ストレージのHTTP APIを提供する。
//
// 各ハンドラはenvelope.Resultを返し、レスポンスの書き出しはenvelope.Handleが一箇所で行う。
// 認証ゲートはルートグループ単位、ペイロード検証はルート単位で適用する。
//
// エンドポイント（/api 配下）:
//   - POST   /auth/users                 ユーザー作成（認証不要）
//   - POST   /auth/token                 トークン発行（ローカルIDプロバイダのみ）
//   - GET    /auth/me                    自身のプロフィール取得
//   - PATCH  /auth/me                    自身のプロフィール更新
//   - GET    /auth/users/:uid            ユーザー取得（管理者ロール）
//   - PATCH  /auth/users/:uid            ユーザー更新（管理者ロール）
//   - DELETE /auth/users/:uid            ユーザー削除（管理者ロール）
//   - GET    /items                      アイテム一覧
//   - GET    /items/:id                  アイテム取得
//   - POST   /items                      アイテム作成
//   - PUT    /items/:id                  アイテム更新
//   - DELETE /items/:id                  アイテム削除
//   - POST   /storage/upload-url         アップロード用署名付きURL発行
//   - GET    /storage/files              ファイル一覧
//   - DELETE /storage/files/:filename    ファイル削除
//   - GET    /storage/download-url/*path ダウンロード用署名付きURL発行
//   - GET    /health                     ヘルスチェック
//   - GET    /data                       デモ用データ
package api
