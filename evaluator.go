package lbm

// evalMode selects which half of the CPS step a context is currently
// in: dispatching an expression, or feeding a completed result back
// into the continuation stack (§4.5's dispatch/apply-cont split).
type evalMode int

const (
	modeDispatch evalMode = iota
	modeApplyCont
)

// StepResult reports what a single Step accomplished.
type StepResult int

const (
	StepRunning StepResult = iota
	StepDone
	StepBlock
	StepSleep
)

// Evaluator drives one context through the CPS dispatch/apply-cont
// loop, one micro-step at a time, so a Scheduler can interleave many
// contexts on a single worker thread (§4.5, §5).
type Evaluator struct {
	rt *Runtime
}

// NewEvaluator creates an evaluator bound to rt.
func NewEvaluator(rt *Runtime) *Evaluator { return &Evaluator{rt: rt} }

// Step advances c by exactly one dispatch or apply-cont transition.
// On out-of-memory it runs the retry protocol: restore the
// continuation stack and current expression to how they stood before
// this step began, force a collection, and retry, up to twice; two
// non-progressing collections in a row surface ERR_GC_PROGRESS and
// kill the context (§4.5).
func (e *Evaluator) Step(c *Context) (StepResult, error) {
	savedExpr, savedEnv, savedResult, savedMode := c.Expr, c.Env, c.Result, c.mode
	savedDepth := c.Stack.Len()

	result, err := e.runStep(c)
	if err == nil || !IsOutOfMemory(err) {
		return result, err
	}

	progressless := 0
	for attempt := 0; attempt < 2; attempt++ {
		c.Stack.Truncate(savedDepth)
		c.Expr, c.Env, c.Result, c.mode = savedExpr, savedEnv, savedResult, savedMode
		e.rt.Collect()
		_, recovered := e.rt.GCStats()
		result, err = e.runStep(c)
		if err == nil || !IsOutOfMemory(err) {
			return result, err
		}
		if recovered == 0 {
			progressless++
		} else {
			progressless = 0
		}
		if progressless >= 2 {
			break
		}
	}
	return e.fail(c, newError(SymErrGCProgress, "two collections in a row recovered nothing"))
}

func (e *Evaluator) runStep(c *Context) (StepResult, error) {
	if c.mode == modeDispatch {
		return e.dispatch(c)
	}
	return e.applyCont(c)
}

// fail stores err's symbol in the context's result register and kills
// the context; an uncaught error always terminates its context
// (§4.5's result register doubles as the error channel). An
// out-of-memory error is handed back to Step unchanged instead, so
// Step's retry protocol can run.
func (e *Evaluator) fail(c *Context, err error) (StepResult, error) {
	if IsOutOfMemory(err) {
		return StepRunning, err
	}
	re, ok := err.(*RuntimeError)
	if !ok {
		re = newError(SymErrFatal, "%s", err.Error())
	}
	c.Result = re.AsSymbolValue()
	c.Err = re
	c.State = ContextDead
	return StepDone, nil
}

func isTruthy(w Word) bool { return !(IsSymbol(w) && DecodeSymbol(w) == SymNil) }

func nameOf(rt *Runtime, id SymbolID) string {
	if n, ok := rt.Symbols.NameOf(id); ok {
		return n
	}
	return "?"
}

func reverseList(rt *Runtime, list Word) (Word, error) {
	out := EncodeSymbol(SymNil)
	cur := list
	for IsCons(cur) {
		var err error
		out, err = rt.AllocCons(rt.Car(cur), out)
		if err != nil {
			return 0, err
		}
		cur = rt.Cdr(cur)
	}
	return out, nil
}

// wrapProgn folds a list of body forms into a single expression: the
// lone form itself if there is only one, otherwise a (progn ...) form
// around all of them.
func wrapProgn(rt *Runtime, forms Word) (Word, error) {
	if !IsCons(forms) {
		return EncodeSymbol(SymNil), nil
	}
	if !IsCons(rt.Cdr(forms)) {
		return rt.Car(forms), nil
	}
	return rt.AllocCons(EncodeSymbol(SymProgn), forms)
}

// dispatch processes c.Expr in c.Env: self-evaluating values and
// symbol lookups resolve immediately into apply-cont, special forms
// push whatever continuation they need and dispatch their next
// subexpression, and everything else is treated as a function
// application.
func (e *Evaluator) dispatch(c *Context) (StepResult, error) {
	rt := e.rt
	expr := c.Expr

	switch {
	case IsSymbol(expr):
		id := DecodeSymbol(expr)
		if id == SymNil || id == SymTrue {
			c.Result = expr
		} else if v, ok := EnvLookup(rt, c.Env, id); ok {
			c.Result = v
		} else {
			return e.fail(c, newError(SymErrUnbound, "unbound symbol %q", nameOf(rt, id)))
		}
		c.mode = modeApplyCont
		return StepRunning, nil

	case IsCons(expr):
		head := rt.Car(expr)
		if IsSymbol(head) {
			switch DecodeSymbol(head) {
			case SymQuote:
				c.Result = rt.Car(rt.Cdr(expr))
				c.mode = modeApplyCont
				return StepRunning, nil
			case SymDefine:
				return e.dispatchDefine(c, expr)
			case SymLambda:
				return e.dispatchLambda(c, expr)
			case SymIf:
				return e.dispatchIf(c, expr)
			case SymLet:
				return e.dispatchLet(c, expr)
			case SymProgn:
				return e.evalPrognForms(c, rt.Cdr(expr))
			case SymRecv:
				return e.dispatchRecv(c, expr)
			case SymSleep:
				return e.dispatchSleep(c, expr)
			}
		}
		return e.dispatchApplication(c, expr)

	default:
		// Self-evaluating: small int/uint, char, boxed number,
		// array, defrag array, extension handle.
		c.Result = expr
		c.mode = modeApplyCont
		return StepRunning, nil
	}
}

func (e *Evaluator) dispatchDefine(c *Context, expr Word) (StepResult, error) {
	rt := e.rt
	rest := rt.Cdr(expr)
	sym := rt.Car(rest)
	valExpr := rt.Car(rt.Cdr(rest))
	if err := c.Stack.Push(Frame{Kind: FrameSetGlobalEnv, Op0: sym}); err != nil {
		return e.fail(c, err)
	}
	c.Expr = valExpr
	c.mode = modeDispatch
	return StepRunning, nil
}

func (e *Evaluator) dispatchLambda(c *Context, expr Word) (StepResult, error) {
	rt := e.rt
	rest := rt.Cdr(expr)
	params := rt.Car(rest)
	body, err := wrapProgn(rt, rt.Cdr(rest))
	if err != nil {
		return e.fail(c, err)
	}
	clo, err := NewClosure(rt, params, body, c.Env)
	if err != nil {
		return e.fail(c, err)
	}
	c.Result = clo
	c.mode = modeApplyCont
	return StepRunning, nil
}

func (e *Evaluator) dispatchIf(c *Context, expr Word) (StepResult, error) {
	rt := e.rt
	rest := rt.Cdr(expr)
	cond := rt.Car(rest)
	rest2 := rt.Cdr(rest)
	thenE := rt.Car(rest2)
	elseE := Word(EncodeSymbol(SymNil))
	if rest3 := rt.Cdr(rest2); IsCons(rest3) {
		elseE = rt.Car(rest3)
	}
	if err := c.Stack.Push(Frame{Kind: FrameIf, Op0: thenE, Op1: elseE, Op2: c.Env}); err != nil {
		return e.fail(c, err)
	}
	c.Expr = cond
	c.mode = modeDispatch
	return StepRunning, nil
}

// dispatchRecv implements (recv) and the timed (recv n): it dequeues
// the oldest mailbox message, if any, directly into the result
// register. An empty mailbox suspends the context instead of
// consuming a step; c.Expr ends up holding the original (recv ...)
// form either way (unchanged for the zero-arg case, restored by
// FrameRecvTimeout for the timed case), so once the scheduler moves
// the context back onto the ready queue the same form dispatches
// again and succeeds against the now-nonempty mailbox.
//
// If the scheduler instead woke this context because its recv
// deadline passed (RecvTimedOut), the predicate is forced false per
// spec: no mailbox check happens and the context fails with
// ERR_TIMEOUT, exactly like any other uncaught evaluation error.
func (e *Evaluator) dispatchRecv(c *Context, expr Word) (StepResult, error) {
	rt := e.rt
	if c.RecvTimedOut {
		c.RecvTimedOut = false
		return e.fail(c, newError(SymErrTimeout, "recv deadline expired"))
	}
	if v, ok := c.Recv(); ok {
		c.Result = v
		c.mode = modeApplyCont
		return StepRunning, nil
	}
	rest := rt.Cdr(expr)
	if !IsCons(rest) {
		c.RecvTimeoutTicks = 0
		return StepBlock, nil
	}
	if err := c.Stack.Push(Frame{Kind: FrameRecvTimeout, Op0: expr}); err != nil {
		return e.fail(c, err)
	}
	c.Expr = rt.Car(rest)
	c.mode = modeDispatch
	return StepRunning, nil
}

// dispatchSleep implements (sleep n): n is evaluated first, then
// FrameSleepArg converts the evaluated tick count into a StepSleep
// result once control returns to apply-cont.
func (e *Evaluator) dispatchSleep(c *Context, expr Word) (StepResult, error) {
	rt := e.rt
	nExpr := rt.Car(rt.Cdr(expr))
	if err := c.Stack.Push(Frame{Kind: FrameSleepArg}); err != nil {
		return e.fail(c, err)
	}
	c.Expr = nExpr
	c.mode = modeDispatch
	return StepRunning, nil
}

func (e *Evaluator) evalPrognForms(c *Context, forms Word) (StepResult, error) {
	rt := e.rt
	if !IsCons(forms) {
		c.Result = EncodeSymbol(SymNil)
		c.mode = modeApplyCont
		return StepRunning, nil
	}
	first := rt.Car(forms)
	rest := rt.Cdr(forms)
	if !IsCons(rest) {
		// Tail position: replace the current expression in place
		// instead of pushing a frame for the last form.
		c.Expr = first
		c.mode = modeDispatch
		return StepRunning, nil
	}
	if err := c.Stack.Push(Frame{Kind: FramePrognRest, Op0: rest, Op1: c.Env}); err != nil {
		return e.fail(c, err)
	}
	c.Expr = first
	c.mode = modeDispatch
	return StepRunning, nil
}

func (e *Evaluator) dispatchLet(c *Context, expr Word) (StepResult, error) {
	rt := e.rt
	rest := rt.Cdr(expr)
	bindings := rt.Car(rest)
	bodyForms := rt.Cdr(rest)

	bindingCells := ListToSlice(rt, bindings)
	keys := make([]SymbolID, len(bindingCells))
	valExprs := make([]Word, len(bindingCells))
	for i, b := range bindingCells {
		keys[i] = DecodeSymbol(rt.Car(b))
		valExprs[i] = rt.Car(rt.Cdr(b))
	}

	newEnv, pairs, err := EnvPreBindAll(rt, c.Env, keys)
	if err != nil {
		return e.fail(c, err)
	}
	body, err := wrapProgn(rt, bodyForms)
	if err != nil {
		return e.fail(c, err)
	}

	if len(keys) == 0 {
		c.Env = newEnv
		c.Expr = body
		c.mode = modeDispatch
		return StepRunning, nil
	}

	workList := EncodeSymbol(SymNil)
	for i := len(keys) - 1; i >= 0; i-- {
		item, err := rt.AllocCons(pairs[i], valExprs[i])
		if err != nil {
			return e.fail(c, err)
		}
		workList, err = rt.AllocCons(item, workList)
		if err != nil {
			return e.fail(c, err)
		}
	}
	bodyEnv, err := rt.AllocCons(body, newEnv)
	if err != nil {
		return e.fail(c, err)
	}
	return e.stepLetBinding(c, workList, bodyEnv)
}

// stepLetBinding evaluates the next pending `let` binding value, or
// enters the body once none remain. Bindings are evaluated in newEnv
// (every key pre-bound to nil), so later bindings can already see
// earlier ones — and themselves, for simple recursive definitions.
func (e *Evaluator) stepLetBinding(c *Context, workList, bodyEnv Word) (StepResult, error) {
	rt := e.rt
	if !IsCons(workList) {
		body := rt.Car(bodyEnv)
		env := rt.Cdr(bodyEnv)
		c.Env = env
		c.Expr = body
		c.mode = modeDispatch
		return StepRunning, nil
	}
	item := rt.Car(workList)
	rest := rt.Cdr(workList)
	pairCell := rt.Car(item)
	valExpr := rt.Cdr(item)
	if err := c.Stack.Push(Frame{Kind: FrameLetBinding, Op0: pairCell, Op1: rest, Op2: bodyEnv}); err != nil {
		return e.fail(c, err)
	}
	c.Env = rt.Cdr(bodyEnv)
	c.Expr = valExpr
	c.mode = modeDispatch
	return StepRunning, nil
}

// dispatchApplication handles (operator arg...): the operator is
// dispatched first, with a FrameFunctionApp remembering the unevaluated
// argument list and calling environment.
func (e *Evaluator) dispatchApplication(c *Context, expr Word) (StepResult, error) {
	rt := e.rt
	opExpr := rt.Car(expr)
	argsList := rt.Cdr(expr)
	if err := c.Stack.Push(Frame{Kind: FrameFunctionApp, Op0: argsList, Op1: c.Env}); err != nil {
		return e.fail(c, err)
	}
	c.Expr = opExpr
	c.mode = modeDispatch
	return StepRunning, nil
}

// applyCont feeds c.Result into the top continuation frame, or — once
// the stack is empty — advances to the next top-level form (ending
// the run once the program itself is exhausted).
func (e *Evaluator) applyCont(c *Context) (StepResult, error) {
	rt := e.rt
	if c.Stack.Len() == 0 {
		if !IsCons(c.Program) {
			c.State = ContextDead
			return StepDone, nil
		}
		next := rt.Car(c.Program)
		c.Program = rt.Cdr(c.Program)
		c.Expr = next
		c.mode = modeDispatch
		return StepRunning, nil
	}

	f := c.Stack.Pop()
	switch f.Kind {
	case FrameDone:
		c.State = ContextDead
		return StepDone, nil

	case FrameSetGlobalEnv:
		if err := rt.Globals.Define(rt, DecodeSymbol(f.Op0), c.Result); err != nil {
			return e.fail(c, err)
		}
		c.mode = modeApplyCont
		return StepRunning, nil

	case FrameEval:
		c.Expr = f.Op0
		c.Env = f.Op1
		c.mode = modeDispatch
		return StepRunning, nil

	case FrameIf:
		if isTruthy(c.Result) {
			c.Expr = f.Op0
		} else {
			c.Expr = f.Op1
		}
		c.Env = f.Op2
		c.mode = modeDispatch
		return StepRunning, nil

	case FramePrognRest:
		c.Env = f.Op1
		return e.evalPrognForms(c, f.Op0)

	case FrameLetBinding:
		if err := rt.SetCdr(f.Op0, c.Result); err != nil {
			return e.fail(c, err)
		}
		return e.stepLetBinding(c, f.Op1, f.Op2)

	case FrameLetBody:
		c.Env = f.Op0
		c.Expr = f.Op1
		c.mode = modeDispatch
		return StepRunning, nil

	case FrameSleepArg:
		c.SleepTicks = DecodeSmallInt(c.Result)
		c.Result = EncodeSymbol(SymNil)
		return StepSleep, nil

	case FrameRecvTimeout:
		c.RecvTimeoutTicks = DecodeSmallInt(c.Result)
		// Restore the original (recv n) form so that whichever of
		// Send-delivery or deadline-expiry wakes this context next,
		// dispatchRecv runs again from the top rather than resuming
		// apply-cont with an empty stack.
		c.Expr = f.Op0
		c.mode = modeDispatch
		return StepBlock, nil

	case FrameFunctionApp:
		return e.applyFunctionApp(c, f)

	case FrameArgList:
		return e.applyArgList(c, f)

	case FrameFunction, FrameBindToKeyRest:
		// Reserved: parameter binding runs synchronously inside
		// applyFunctionCall rather than as its own suspend point,
		// since binding a closure's parameters never itself blocks.
		c.mode = modeApplyCont
		return StepRunning, nil
	}
	return e.fail(c, newError(SymErrFatal, "unknown continuation frame"))
}

func (e *Evaluator) applyFunctionApp(c *Context, f Frame) (StepResult, error) {
	rt := e.rt
	fnVal := c.Result
	argsList := f.Op0
	env := f.Op1

	if !IsCons(argsList) {
		return e.applyFunctionCall(c, fnVal, EncodeSymbol(SymNil))
	}
	fnEnv, err := rt.AllocCons(fnVal, env)
	if err != nil {
		return e.fail(c, err)
	}
	first := rt.Car(argsList)
	rest := rt.Cdr(argsList)
	if err := c.Stack.Push(Frame{Kind: FrameArgList, Op0: fnEnv, Op1: rest, Op2: EncodeSymbol(SymNil)}); err != nil {
		return e.fail(c, err)
	}
	c.Expr = first
	c.Env = env
	c.mode = modeDispatch
	return StepRunning, nil
}

func (e *Evaluator) applyArgList(c *Context, f Frame) (StepResult, error) {
	rt := e.rt
	fnEnv := f.Op0
	remaining := f.Op1
	accSoFar := f.Op2

	fnVal := rt.Car(fnEnv)
	env := rt.Cdr(fnEnv)

	newAcc, err := rt.AllocCons(c.Result, accSoFar)
	if err != nil {
		return e.fail(c, err)
	}
	if !IsCons(remaining) {
		args, err := reverseList(rt, newAcc)
		if err != nil {
			return e.fail(c, err)
		}
		return e.applyFunctionCall(c, fnVal, args)
	}
	next := rt.Car(remaining)
	rest := rt.Cdr(remaining)
	if err := c.Stack.Push(Frame{Kind: FrameArgList, Op0: fnEnv, Op1: rest, Op2: newAcc}); err != nil {
		return e.fail(c, err)
	}
	c.Expr = next
	c.Env = env
	c.mode = modeDispatch
	return StepRunning, nil
}

// applyFunctionCall dispatches a fully-evaluated operator and its
// evaluated argument list to a closure or a registered extension.
func (e *Evaluator) applyFunctionCall(c *Context, fnVal, args Word) (StepResult, error) {
	rt := e.rt
	switch {
	case IsClosure(rt, fnVal):
		params := ClosureParams(rt, fnVal)
		body := ClosureBody(rt, fnVal)
		closEnv := ClosureEnv(rt, fnVal)
		newEnv, err := bindParams(rt, params, args, closEnv)
		if err != nil {
			return e.fail(c, err)
		}
		c.Env = newEnv
		c.Expr = body
		c.mode = modeDispatch
		return StepRunning, nil

	case tagOf(fnVal) == tagCustom:
		fn, ok := rt.Exts.Get(int(payloadOf(fnVal)))
		if !ok {
			return e.fail(c, newError(SymErrEval, "unbound extension"))
		}
		res, err := fn(rt, ListToSlice(rt, args))
		if err != nil {
			return e.fail(c, err)
		}
		c.Result = res
		c.mode = modeApplyCont
		return StepRunning, nil

	default:
		return e.fail(c, newError(SymErrEval, "value is not callable"))
	}
}

// bindParams binds a closure's parameter list against an already
// evaluated argument list, extending env. A dotted tail symbol (the
// BIND_TO_KEY_REST case) collects every remaining argument into one
// list binding, the way a variadic lambda parameter does.
func bindParams(rt *Runtime, params, args, env Word) (Word, error) {
	for IsCons(params) {
		key := rt.Car(params)
		if !IsCons(args) {
			return 0, newError(SymErrArity, "too few arguments")
		}
		val := rt.Car(args)
		var err error
		env, err = EnvBind(rt, env, DecodeSymbol(key), val)
		if err != nil {
			return 0, err
		}
		params = rt.Cdr(params)
		args = rt.Cdr(args)
	}
	if IsSymbol(params) && DecodeSymbol(params) != SymNil {
		return EnvBind(rt, env, DecodeSymbol(params), args)
	}
	if IsCons(args) {
		return 0, newError(SymErrArity, "too many arguments")
	}
	return env, nil
}
