// Package identity はBearerトークンの検証とPrincipalの生成を提供する。
//
// 検証は外部IDプロバイダ(Provider)に委譲する。
// ローカル発行のHS256トークンを扱うHMACProviderと、
// JWKSエンドポイントの公開鍵で検証するJWKSProviderを持つ。
package identity
